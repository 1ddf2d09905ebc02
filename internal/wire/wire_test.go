package wire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/attendly/server/internal/wire"
)

type scan struct {
	Code  string  `json:"code"`
	Score float64 `json:"score,omitempty"`
}

func TestStructRoundTrip(t *testing.T) {
	s, err := wire.ToStruct(scan{Code: "QRCHESSCLUB1STUDENT01", Score: 0.5})
	require.NoError(t, err)
	assert.Equal(t, "QRCHESSCLUB1STUDENT01", s.Fields["code"].GetStringValue())

	var out scan
	require.NoError(t, wire.FromStruct(s, &out))
	assert.Equal(t, scan{Code: "QRCHESSCLUB1STUDENT01", Score: 0.5}, out)
}

func TestFromStruct_RejectsUnknownFields(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{"code": "x", "extra": true})
	require.NoError(t, err)

	var out scan
	assert.Error(t, wire.FromStruct(s, &out))
	assert.Error(t, wire.FromStruct(nil, &out))
}

func TestToStruct_RejectsNonObjects(t *testing.T) {
	_, err := wire.ToStruct([]string{"a"})
	assert.Error(t, err)
}
