package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"examforge/internal/providers"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	var target []string
	syntaxErr := json.Unmarshal([]byte("{not json"), &target)

	cases := []struct {
		err  error
		want Kind
	}{
		{syntaxErr, KindParse},
		{fmt.Errorf("parse questions: %w", ErrParse), KindParse},
		{ErrNoItems, KindParse},
		{errors.New("Post https://api: net/http: request canceled (Client.Timeout exceeded)"), KindTimeout},
		{errors.New("read tcp: connection reset by peer"), KindTimeout},
		{errors.New("context deadline exceeded"), KindTimeout},
		{errors.New("upstream timed out"), KindTimeout},
		{errors.New("503 service unavailable"), KindService},
		{errors.New("429 rate limit"), KindService},
		{ErrEmptyResponse, KindService},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Classify(tc.err), tc.err.Error())
	}
}

func TestClassifyAgreesWithProviderClasses(t *testing.T) {
	for _, msg := range []string{"dial timeout", "request timed out", "read: connection reset by peer", "insufficient_quota", "bad request"} {
		err := errors.New(msg)
		isTimeout := providers.ClassifyError(err) == providers.ErrorTimeout
		require.Equal(t, isTimeout, Classify(err) == KindTimeout, msg)
	}
}

func TestKindOfPrefersWrappedKind(t *testing.T) {
	err := fmt.Errorf("batch 2: %w", Wrap(KindPersistence, errors.New("timeout writing rows")))
	require.Equal(t, KindPersistence, KindOf(err))
	require.Equal(t, KindTimeout, KindOf(errors.New("dial timeout")))
	require.Nil(t, Wrap(KindService, nil))
}
