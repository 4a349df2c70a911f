package compiler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withobsrvr/streamctl/internal/errdefs"
	"github.com/withobsrvr/streamctl/internal/properties"
)

func TestCompileS3Scenario(t *testing.T) {
	set := properties.New(
		properties.Property{Scope: "s3", Key: "endpoint", Value: "http://minio:9000"},
		properties.Property{Scope: "s3", Key: "bucket", Value: "test"},
	)

	payload, err := Compile(set)
	require.NoError(t, err)

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Equal(t, `{"s3":{"endpoint":"http://minio:9000","bucket":"test"}}`, string(data))
}

func TestCompileEmptySet(t *testing.T) {
	for name, set := range map[string]*properties.Set{"empty": properties.New(), "nil": nil} {
		t.Run(name, func(t *testing.T) {
			payload, err := Compile(set)
			require.NoError(t, err)
			require.NotNil(t, payload)

			data, err := json.Marshal(payload)
			require.NoError(t, err)
			assert.Equal(t, `{}`, string(data))
		})
	}
}

func TestCompileMergedOverride(t *testing.T) {
	a := properties.New(
		properties.Property{Scope: "src", Key: "poll.interval", Value: "5s"},
		properties.Property{Scope: "sink", Key: "bucket", Value: "dev"},
		properties.Property{Scope: "sink", Key: "region", Value: "eu-central-1"},
	)
	b := properties.New(properties.Property{Scope: "sink", Key: "bucket", Value: "prod"})

	payload, err := Compile(properties.Merge(a, b))
	require.NoError(t, err)

	v, _ := payload.Get("sink", "bucket")
	assert.Equal(t, "prod", v)
	v, _ = payload.Get("sink", "region")
	assert.Equal(t, "eu-central-1", v)
	v, _ = payload.Get("src", "poll.interval")
	assert.Equal(t, "5s", v)

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded map[string]map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, map[string]map[string]string{
		"src":  {"poll.interval": "5s"},
		"sink": {"bucket": "prod", "region": "eu-central-1"},
	}, decoded)
}

func TestCompileNormalizesBundleSeparators(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{name: "semicolon", key: "deployer.environment-variables", value: "X=1;Y=2", want: "X=1,Y=2"},
		{name: "pipe", key: "deployer.environmentVariables", value: "X=1|Y=2|Z=3", want: "X=1,Y=2,Z=3"},
		{name: "mixed and padded", key: "env", value: " X=1 ; Y=2,Z=3 ;", want: "X=1,Y=2,Z=3"},
		{name: "quoted value keeps separator", key: "env", value: `HOSTS="a,b";MODE=fast`, want: `HOSTS="a,b",MODE=fast`},
		{name: "quoted value with semicolon", key: "env", value: `CMD="a;b"|N=1`, want: `CMD="a;b",N=1`},
		{name: "quoted value with pipe", key: "env", value: `CMD="a|b";N=1`, want: `CMD="a|b",N=1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Compile(properties.New(properties.Property{Scope: "proc", Key: tt.key, Value: tt.value}))
			require.NoError(t, err)
			got, ok := payload.Get("proc", tt.key)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileSeparatorNormalizationLeavesNoSecondaryDelimiter(t *testing.T) {
	set := properties.New(properties.Property{Scope: "proc", Key: "deployer.environment-variables", Value: "X=1;Y=2"})

	payload, err := Compile(set)
	require.NoError(t, err)

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Equal(t, `{"proc":{"deployer.environment-variables":"X=1,Y=2"}}`, string(data))
	assert.NotContains(t, string(data), ";")
}

func TestCompiledBundleRoundTrips(t *testing.T) {
	payload, err := Compile(properties.New(properties.Property{Scope: "proc", Key: "env", Value: `A="x;y";B=2`}))
	require.NoError(t, err)
	first, _ := payload.Get("proc", "env")
	assert.Equal(t, `A="x;y",B=2`, first)

	again, err := Compile(properties.New(properties.Property{Scope: "proc", Key: "env", Value: first}))
	require.NoError(t, err)
	second, _ := again.Get("proc", "env")
	assert.Equal(t, first, second)
}

func TestCompileLeavesOrdinaryKeysAlone(t *testing.T) {
	set := properties.New(properties.Property{Scope: "proc", Key: "expression", Value: "a;b|c"})
	payload, err := Compile(set)
	require.NoError(t, err)
	v, _ := payload.Get("proc", "expression")
	assert.Equal(t, "a;b|c", v)
}

func TestCompileRejectsMalformedBundle(t *testing.T) {
	// an unquoted separator always splits items, so HOSTS=a,b leaves "b" dangling
	for _, value := range []string{"HOSTS=a,b;MODE=fast", "X=1;garbage", "=1", "1X=2", `X="open`} {
		_, err := Compile(properties.New(properties.Property{Scope: "proc", Key: "env", Value: value}))
		require.Error(t, err, value)
		assert.True(t, errdefs.IsConfig(err), value)
	}
}

func TestCompileCustomBundleKeys(t *testing.T) {
	set := properties.New(properties.Property{Scope: "proc", Key: "vars", Value: "A=1;B=2"})
	payload, err := Compile(set, WithBundleKeys("vars"), WithBundleDelimiters(";"))
	require.NoError(t, err)
	v, _ := payload.Get("proc", "vars")
	assert.Equal(t, "A=1,B=2", v)
}

func TestMarshalEscapesValues(t *testing.T) {
	set := properties.New(
		properties.Property{Scope: "proc", Key: "script", Value: "say \"hi\"\nexit\t1 \\ done"},
		properties.Property{Scope: "proc", Key: "ctrl", Value: "\x01"},
	)
	payload, err := Compile(set)
	require.NoError(t, err)

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Equal(t, `{"proc":{"script":"say \"hi\"\nexit\t1 \\ done","ctrl":"\u0001"}}`, string(data))

	var decoded map[string]map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "say \"hi\"\nexit\t1 \\ done", decoded["proc"]["script"])
}

func TestPayloadUnmarshalKeepsOrder(t *testing.T) {
	var payload Payload
	require.NoError(t, json.Unmarshal([]byte(`{"sink":{"b":"2","a":"1"},"src":{"x":"y"}}`), &payload))

	assert.Equal(t, []string{"sink", "src"}, payload.Scopes())
	assert.Equal(t, []string{"app.sink.b=2", "app.sink.a=1", "app.src.x=y"}, payload.Flatten())
	assert.Equal(t, 3, payload.Len())

	assert.Error(t, json.Unmarshal([]byte(`{"sink":{"b":2}}`), &payload))
	assert.Error(t, json.Unmarshal([]byte(`{"sink":null}`), &payload))
	assert.Error(t, json.Unmarshal([]byte(`["sink"]`), &payload))
	assert.Equal(t, []string{"sink", "src"}, payload.Scopes(), "a failed decode leaves the payload unchanged")
}

func TestPayloadEqualIgnoresOrder(t *testing.T) {
	payload, err := Compile(properties.New(
		properties.Property{Scope: "sink", Key: "bucket", Value: "test"},
		properties.Property{Scope: "sink", Key: "endpoint", Value: "http://minio:9000"},
		properties.Property{Scope: "proc", Key: "env", Value: "A=1;B=2"},
	))
	require.NoError(t, err)

	assert.True(t, payload.Equal(map[string]map[string]string{
		"proc": {"env": "A=1,B=2"},
		"sink": {"endpoint": "http://minio:9000", "bucket": "test"},
	}))
	assert.False(t, payload.Equal(map[string]map[string]string{
		"proc": {"env": "A=1,B=2"},
		"sink": {"endpoint": "http://minio:9000", "bucket": "prod"},
	}))
	assert.False(t, payload.Equal(map[string]map[string]string{
		"sink": {"endpoint": "http://minio:9000", "bucket": "test"},
	}))
	assert.False(t, payload.Equal(map[string]map[string]string{
		"proc": {"env": "A=1,B=2"},
		"sink": {"endpoint": "http://minio:9000", "bucket": "test", "region": "eu"},
	}))

	empty, err := Compile(nil)
	require.NoError(t, err)
	assert.True(t, empty.Equal(map[string]map[string]string{}))
}
