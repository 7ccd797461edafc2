package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterLastWriterWins(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register("job", func(ctx context.Context, _ string) (any, error) { return "v1", nil })
	r.Register("job", func(ctx context.Context, _ string) (any, error) { return "v2", nil })

	got, err := r.ExecuteOnce(context.Background(), "job")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
	assert.Equal(t, []string{"job"}, r.Keys())
}

func TestRegisterIgnoresEmptyKeyAndNilFunc(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register("  ", func(ctx context.Context, _ string) (any, error) { return nil, nil })
	r.Register("nil", nil)
	assert.Empty(t, r.Keys())
}

func TestExecuteOnceUnknownFunction(t *testing.T) {
	t.Parallel()
	r := New()
	_, err := r.ExecuteOnce(context.Background(), "doesNotExist")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownFunction))
}

func TestExecuteOncePropagatesError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	r := New()
	r.RegisterFunc("fail", func(ctx context.Context) error { return boom })

	_, err := r.ExecuteOnce(context.Background(), "fail")
	assert.ErrorIs(t, err, boom)
}

func TestExecuteOncePassesArgument(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register("echo", func(ctx context.Context, arg string) (any, error) { return arg, nil })

	got, err := r.ExecuteOnce(context.Background(), "echo('hello world')")
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
}

func TestParseTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		key     string
		arg     string
		wantErr bool
	}{
		{raw: "system.noop", key: "system.noop"},
		{raw: " system.noop() ", key: "system.noop"},
		{raw: "system.echo(hi)", key: "system.echo", arg: "hi"},
		{raw: "system.echo('hi')", key: "system.echo", arg: "hi"},
		{raw: `system.echo("a b")`, key: "system.echo", arg: "a b"},
		{raw: "", wantErr: true},
		{raw: "(x)", wantErr: true},
		{raw: "a(b", wantErr: true},
		{raw: "a(b))", wantErr: true},
		{raw: "a b", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			key, arg, err := ParseTarget(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.key, key)
			assert.Equal(t, tt.arg, arg)
		})
	}
}
