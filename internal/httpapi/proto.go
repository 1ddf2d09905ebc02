package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/attendly/server/internal/wire"
)

// maxRequestBody caps the request body size for both protobuf and JSON
// payloads. A full camera frame of 64 faces with zones stays well under it.
const maxRequestBody = 256 << 10

const protobufType = "application/x-protobuf"

var errBodyTooLarge = errors.New("request body too large")

// isProtobuf returns true if the request's Content-Type indicates a
// protobuf payload.
func isProtobuf(r *http.Request) bool {
	return protobufMedia(r.Header.Get("Content-Type"))
}

// wantsProtobuf is true when the caller sent protobuf or asked for it.
func wantsProtobuf(r *http.Request) bool {
	return isProtobuf(r) || protobufMedia(r.Header.Get("Accept"))
}

func protobufMedia(v string) bool {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return false
	}
	return mt == protobufType ||
		mt == "application/protobuf" ||
		mt == "application/octet-stream"
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxRequestBody {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// decodeRequest fills v from a JSON body or from a protobuf-encoded
// google.protobuf.Struct with the same fields.
func decodeRequest(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if isProtobuf(r) {
		var msg structpb.Struct
		if err := proto.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("decode protobuf: %w", err)
		}
		return wire.FromStruct(&msg, v)
	}
	if len(body) == 0 {
		// Optional bodies (checkout, revoke) may be omitted entirely.
		body = []byte("{}")
	}
	if err := wire.DecodeJSON(body, v); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("invalid JSON body")
		}
		return err
	}
	return nil
}

// writeProto marshals msg and writes it with the given HTTP status.
func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		// Fall back to a plain-text error if marshalling fails.
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", protobufType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
