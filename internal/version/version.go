package version

import "fmt"

// Заполняются через -ldflags "-X github.com/Steank-29/tawakkol/internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) { return version, commit, date }

func GetVersion() string { return version }

func GetCommit() string { return commit }

func GetDate() string { return date }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// UserAgent используется клиентами витрины при обращении к серверу заказов.
func UserAgent(component string) string {
	return fmt.Sprintf("tawakkol-%s/%s", component, version)
}
