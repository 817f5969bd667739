// Package grpctransport публикует сервис заказов по gRPC.
//
// Сообщения являются обычными Go-структурами, кодируемые JSON-кодеком (content-subtype "json"),
// поэтому сервис описан вручную через grpc.ServiceDesc.
package grpctransport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName — content-subtype, под которым зарегистрирован кодек.
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
