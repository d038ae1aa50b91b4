package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := New(CodeConflict, "Email address has to be unique")

	require.True(t, stderrors.Is(err, ErrConflict))
	require.True(t, IsConflict(err))
	require.False(t, IsNotFound(err))
}

func TestErrorIsSurvivesWrapping(t *testing.T) {
	cause := stderrors.New("disk full")
	err := fmt.Errorf("append: %w", Wrap(CodeStorageFault, "journal append failed", cause))

	require.True(t, IsStorageFault(err))
	require.ErrorIs(t, err, cause)
	require.Equal(t, CodeStorageFault, GetCode(err))
	require.Equal(t, "append: journal append failed: disk full", err.Error())
}

func TestGetCode(t *testing.T) {
	require.Equal(t, Code(""), GetCode(nil))
	require.Equal(t, CodeUnknown, GetCode(stderrors.New("plain")))
	require.Equal(t, CodeNotFound, GetCode(Newf(CodeNotFound, "user with id '%d' not found", 7)))
}

func TestCodeMappings(t *testing.T) {
	tests := []struct {
		code   Code
		grpc   codes.Code
		http   int
		domain bool
	}{
		{CodeConflict, codes.AlreadyExists, http.StatusConflict, true},
		{CodeNotFound, codes.NotFound, http.StatusNotFound, true},
		{CodeInvalidArgument, codes.InvalidArgument, http.StatusBadRequest, true},
		{CodeStorageFault, codes.Unavailable, http.StatusServiceUnavailable, false},
		{CodeRecoveryFault, codes.FailedPrecondition, http.StatusServiceUnavailable, false},
		{CodeInternal, codes.Internal, http.StatusInternalServerError, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			require.Equal(t, tc.grpc, tc.code.GRPCCode())
			require.Equal(t, tc.http, tc.code.HTTPStatus())
			require.Equal(t, tc.domain, tc.code.Domain())
		})
	}
}

func TestToGRPCStatusAttachesErrorInfo(t *testing.T) {
	err := WithMetadata(CodeNotFound, "event not found", map[string]string{"id": "9"})

	st, ok := status.FromError(err.ToGRPCStatus())
	require.True(t, ok)
	require.Equal(t, codes.NotFound, st.Code())
	require.Len(t, st.Details(), 1)
	info, ok := st.Details()[0].(*errdetails.ErrorInfo)
	require.True(t, ok)
	require.Equal(t, string(CodeNotFound), info.Reason)
	require.Equal(t, Domain, info.Domain)
	require.Equal(t, "9", info.Metadata["id"])
}
