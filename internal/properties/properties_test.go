package properties

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withobsrvr/streamctl/internal/errdefs"
)

func TestMergeLaterSourceWins(t *testing.T) {
	defaults := New(
		Property{Scope: "s3", Key: "endpoint", Value: "http://minio:9000"},
		Property{Scope: "s3", Key: "bucket", Value: "test"},
	)
	prod := New(Property{Scope: "s3", Key: "bucket", Value: "prod"})
	overrides := New(Property{Scope: "*", Key: "log.level", Value: "debug"})

	merged := Merge(defaults, prod, nil, overrides)

	bucket, ok := merged.Get("s3", "bucket")
	require.True(t, ok)
	assert.Equal(t, "prod", bucket)

	endpoint, _ := merged.Get("s3", "endpoint")
	assert.Equal(t, "http://minio:9000", endpoint)

	// overriding keeps the original position
	assert.Equal(t, []Property{
		{Scope: "s3", Key: "endpoint", Value: "http://minio:9000"},
		{Scope: "s3", Key: "bucket", Value: "prod"},
		{Scope: "*", Key: "log.level", Value: "debug"},
	}, merged.Entries())

	// sources are untouched
	original, _ := defaults.Get("s3", "bucket")
	assert.Equal(t, "test", original)
}

func TestResolvePrefersComponentScope(t *testing.T) {
	set := New(
		Property{Scope: AllScopes, Key: "server.port", Value: "8080"},
		Property{Scope: "sink", Key: "server.port", Value: "9090"},
	)

	v, ok := set.Resolve("sink", "server.port")
	require.True(t, ok)
	assert.Equal(t, "9090", v)

	v, ok = set.Resolve("src", "server.port")
	require.True(t, ok)
	assert.Equal(t, "8080", v)

	_, ok = set.Resolve("src", "missing")
	assert.False(t, ok)
}

func TestWithReturnsCopy(t *testing.T) {
	base := New(Property{Scope: "src", Key: "a", Value: "1"})
	next := base.With("src", "a", "2")

	v, _ := base.Get("src", "a")
	assert.Equal(t, "1", v)
	v, _ = next.Get("src", "a")
	assert.Equal(t, "2", v)
}

func TestScopesInFirstSeenOrder(t *testing.T) {
	set := New(
		Property{Scope: "sink", Key: "a", Value: "1"},
		Property{Scope: "src", Key: "b", Value: "2"},
		Property{Scope: "sink", Key: "c", Value: "3"},
	)
	assert.Equal(t, []string{"sink", "src"}, set.Scopes())
}

func TestNilSetIsEmpty(t *testing.T) {
	var set *Set
	assert.Equal(t, 0, set.Len())
	assert.Empty(t, set.Entries())
	assert.False(t, set.Has("a", "b"))
}

func TestParse(t *testing.T) {
	input := `
# defaults
s3.endpoint = http://minio:9000
s3.bucket=test
! another comment
*.spring.cloud.stream.kafka.binder.brokers=kafka:9092
sink.query=a=b
proc.script=line one \
    line two
proc.multiline=first\nsecond
`
	set, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 6, set.Len())
	v, _ := set.Get("s3", "endpoint")
	assert.Equal(t, "http://minio:9000", v)
	v, _ = set.Get("*", "spring.cloud.stream.kafka.binder.brokers")
	assert.Equal(t, "kafka:9092", v)
	v, _ = set.Get("sink", "query")
	assert.Equal(t, "a=b", v)
	v, _ = set.Get("proc", "script")
	assert.Equal(t, "line one line two", v)
	v, _ = set.Get("proc", "multiline")
	assert.Equal(t, "first\nsecond", v)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "missing equals", input: "s3.bucket test\n", want: "line 1: unterminated key/value pair"},
		{name: "open continuation", input: "s3.bucket=a\ns3.endpoint=http://x \\\n", want: "line 2: unterminated key/value pair"},
		{name: "no scope", input: "bucket=test\n", want: "has no scope"},
		{name: "empty key", input: "s3.=test\n", want: "empty key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.True(t, errdefs.IsConfig(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFormatParsesBack(t *testing.T) {
	set := New(
		Property{Scope: "src", Key: "path", Value: `C:\data`},
		Property{Scope: "proc", Key: "script", Value: "a\nb"},
	)
	parsed, err := Parse(strings.NewReader(set.Format()))
	require.NoError(t, err)
	assert.Equal(t, set.Entries(), parsed.Entries())
}

func TestParseAssignments(t *testing.T) {
	set, err := ParseAssignments([]string{"sink.bucket=one", "sink.bucket=two", "*.x=y"})
	require.NoError(t, err)
	v, _ := set.Get("sink", "bucket")
	assert.Equal(t, "two", v)
	assert.Equal(t, 2, set.Len())

	_, err = ParseAssignments([]string{"sink.bucket"})
	assert.True(t, errdefs.IsConfig(err))
}
