package vectorstore

import (
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func doubleValue(v float64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: v}}
}

func listValue(values ...*qdrant.Value) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
}

func TestDecodeMultiVectors(t *testing.T) {
	payload := listValue(
		listValue(doubleValue(1), doubleValue(0)),
		listValue(doubleValue(0.5), doubleValue(-0.5)),
	)

	got := decodeMultiVectors(payload)
	if len(got) != 2 {
		t.Fatalf("expected 2 token vectors, got %d", len(got))
	}
	if got[0][0] != 1 || got[0][1] != 0 {
		t.Errorf("vector 0 = %v, want [1 0]", got[0])
	}
	if got[1][0] != 0.5 || got[1][1] != -0.5 {
		t.Errorf("vector 1 = %v, want [0.5 -0.5]", got[1])
	}
}

func TestDecodeMultiVectors_RejectsWrongShapes(t *testing.T) {
	tests := []struct {
		name  string
		value *qdrant.Value
	}{
		{"string value", &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: "oops"}}},
		{"empty list", listValue()},
		{"flat list of doubles", listValue(doubleValue(1), doubleValue(2))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeMultiVectors(tt.value); got != nil {
				t.Errorf("expected nil for malformed payload, got %v", got)
			}
		})
	}
}

func TestPointID(t *testing.T) {
	if got := pointID(qdrant.NewIDUUID("a2f1c0de-0000-0000-0000-000000000001")); got != "a2f1c0de-0000-0000-0000-000000000001" {
		t.Errorf("uuid point ID = %q", got)
	}
	if got := pointID(qdrant.NewIDNum(42)); got != "42" {
		t.Errorf("numeric point ID = %q, want 42", got)
	}
	if got := pointID(nil); got != "" {
		t.Errorf("nil point ID = %q, want empty", got)
	}
}

func TestClassifyIndexError(t *testing.T) {
	unavailable := classifyIndexError("query", status.Error(codes.Unavailable, "connection refused"))
	if !errors.Is(unavailable, ErrUnavailable) {
		t.Errorf("codes.Unavailable should map to ErrUnavailable, got %v", unavailable)
	}

	invalid := classifyIndexError("query", status.Error(codes.InvalidArgument, "bad vector size"))
	var indexErr *IndexError
	if !errors.As(invalid, &indexErr) {
		t.Fatalf("expected IndexError, got %v", invalid)
	}
	if indexErr.Code != codes.InvalidArgument {
		t.Errorf("Code = %s, want InvalidArgument", indexErr.Code)
	}
	if errors.Is(invalid, ErrUnavailable) {
		t.Error("logic errors must not be classified as retryable")
	}
}
