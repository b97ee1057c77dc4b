package firestore

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestWrapErrorClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		name        string
		code        codes.Code
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "not found", code: codes.NotFound, notFound: true},
		{name: "already exists", code: codes.AlreadyExists, conflict: true},
		{name: "unavailable", code: codes.Unavailable, unavailable: true},
		{name: "exhausted", code: codes.ResourceExhausted, unavailable: true},
		{name: "permission denied", code: codes.PermissionDenied},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := WrapError("carts.get", status.Error(tc.code, "boom"))
			var repoErr *Error
			if !errors.As(err, &repoErr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification for %s: %+v", tc.code, repoErr)
			}
		})
	}
}

func TestWrapErrorPassesCancellationThrough(t *testing.T) {
	if err := WrapError("carts.query", status.Error(codes.Canceled, "gone")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := WrapError("carts.query", context.DeadlineExceeded); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline passthrough, got %v", err)
	}
	if WrapError("carts.query", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestNotFoundHelpers(t *testing.T) {
	err := NotFound("carts.get", "line-1")
	if !IsNotFound(err) {
		t.Fatalf("expected not found classification")
	}
	if IsUnavailable(err) {
		t.Fatalf("did not expect unavailable classification")
	}
	if err.Error() != `carts.get: document "line-1" not found` {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
