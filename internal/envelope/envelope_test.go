package envelope

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podushkina/taskenvelope/internal/serializer"
	"github.com/podushkina/taskenvelope/internal/task"
)

func ptr[T any](v T) *T { return &v }

func testOptions() Options {
	opts := DefaultOptions()
	opts.Origin = "gen42@test-host"
	return opts
}

func fullInvocation(s serializer.Serializer) task.Invocation {
	eta := time.Date(2024, 3, 1, 10, 30, 0, 123456000, time.UTC)
	expires := eta.Add(time.Hour)
	return task.Invocation{
		Name:   "worker.add",
		ID:     "6adc064d-759c-4588-b4c2-85ab798ff76b",
		Args:   []any{"a", true, 1.5},
		Kwargs: map[string]any{"name": "x", "nested": map[string]any{"k": []any{"v"}}},
		Options: task.ExecutionOptions{
			task.OptionChord:     nil,
			task.OptionCallbacks: nil,
			task.OptionErrbacks:  nil,
			task.OptionChain:     []any{map[string]any{"task": "worker.mul"}},
		},
		CorrelationID: "3dc0b02c-64ab-4d3a-96a7-227e2e76d619",
		ParentID:      "ddca66e4-c05a-487f-bd0f-f578dcbbb82e",
		RootID:        "7c8ccac3-a676-4a09-b0ea-fadbc34ddf5d",
		GroupID:       "4c7d5441-cf3e-45a5-8785-7944662f9d4f",
		ReplyTo:       "0af62ba9-adce-3a76-b3f8-43c32e74ee9a",
		Retries:       2,
		ETA:           &eta,
		Expires:       &expires,
		Routing: task.Routing{
			Priority:    ptr(5),
			RoutingKey:  "celery",
			Exchange:    "tasks",
			Redelivered: ptr(false),
		},
		Lang:            "py",
		Origin:          "gen64132@worker-1",
		Shadow:          "add-alias",
		TimeLimit:       task.TimeLimit{Hard: ptr(30.0), Soft: ptr(25.5)},
		IgnoreResult:    true,
		ContentType:     s.ContentType(),
		ContentEncoding: s.ContentEncoding(),
		Extra:           map[string]any{"x-trace": "abc"},
	}
}

func TestEncode_WorkerAddExample(t *testing.T) {
	env, err := Encode(task.New("worker.add", []any{2, 2}, map[string]any{}), testOptions())
	require.NoError(t, err)

	assert.Equal(t, "worker.add", env.Headers[HeaderTask])
	assert.Equal(t, "(2, 2)", env.Headers[HeaderArgsRepr])
	assert.Equal(t, "{}", env.Headers[HeaderKwargsRepr])
	assert.Equal(t, "go", env.Headers[HeaderLang])
	assert.Equal(t, "application/json", env.Headers[HeaderContentType])
	assert.Equal(t, "utf-8", env.Headers[HeaderContentEncoding])
	assert.JSONEq(t,
		`[[2,2], {}, {"chord": null, "callbacks": null, "errbacks": null, "chain": null}]`,
		string(env.Body))
}

func TestEncode_WritesEveryHeader(t *testing.T) {
	env, err := Encode(task.New("worker.add", nil, nil), testOptions())
	require.NoError(t, err)

	for k := range knownHeaders {
		if k == HeaderGroupID {
			continue
		}
		_, ok := env.Headers[k]
		assert.True(t, ok, "header %q missing", k)
	}
	assert.Nil(t, env.Headers[HeaderParentID])
	assert.Nil(t, env.Headers[HeaderETA])
	assert.Equal(t, 0, env.Headers[HeaderRetries])
	assert.Equal(t, []any{nil, nil}, env.Headers[HeaderTimeLimit])
	assert.Equal(t, map[string]any{
		DeliveryPriority:    nil,
		DeliveryRedelivered: nil,
		DeliveryRoutingKey:  "",
		DeliveryExchange:    "",
	}, env.Headers[HeaderDeliveryInfo])
}

func TestDecode_WorkerAddExample(t *testing.T) {
	env := Envelope{
		Headers: Headers{
			HeaderTask:    "worker.add",
			HeaderID:      "6adc064d-759c-4588-b4c2-85ab798ff76b",
			HeaderRetries: 0,
		},
		Body: []byte(`[[1,7], {}, null]`),
	}

	inv, err := Decode(env)
	require.NoError(t, err)

	assert.Equal(t, "worker.add", inv.Name)
	assert.Equal(t, []any{int64(1), int64(7)}, inv.Args)
	assert.Equal(t, map[string]any{}, inv.Kwargs)
	assert.Equal(t, 0, inv.Retries)
	assert.Nil(t, inv.Options)
	assert.Equal(t, inv.ID, inv.CorrelationID)
	assert.Equal(t, inv.ID, inv.RootID)
	assert.Equal(t, "application/json", inv.ContentType)
	assert.Equal(t, "utf-8", inv.ContentEncoding)
	assert.Nil(t, inv.Extra)
}

func TestRoundTrip_FullyPopulated(t *testing.T) {
	for _, s := range []serializer.Serializer{
		serializer.JSON(), serializer.YAML(), serializer.CBOR(), serializer.Protobuf(),
	} {
		t.Run(s.ContentType(), func(t *testing.T) {
			in := fullInvocation(s)

			env, err := Encode(in, testOptions())
			require.NoError(t, err)

			out, err := Decode(env)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}
}

func TestRoundTrip_MatchesDefaults(t *testing.T) {
	opts := testOptions()
	in := task.New("worker.add", []any{"x"}, map[string]any{"y": "z"})
	in.ID = "f0e6eb81-179b-4881-89fb-674a83ee640f"
	local := time.FixedZone("UTC+3", 3*3600)
	eta := time.Date(2024, 3, 1, 13, 0, 0, 0, local)
	in.ETA = &eta

	env, err := Encode(in, opts)
	require.NoError(t, err)
	out, err := Decode(env)
	require.NoError(t, err)

	want := WithDefaults(in, opts)
	assert.Equal(t, want, out)
	assert.True(t, eta.Equal(*out.ETA))
	assert.Equal(t, "gen42@test-host", out.Origin)
}

func TestRoundTrip_Idempotent(t *testing.T) {
	opts := testOptions()
	first, err := Encode(task.New("worker.add", []any{2, 2}, nil), opts)
	require.NoError(t, err)
	once, err := Decode(first)
	require.NoError(t, err)

	second, err := Encode(once, opts)
	require.NoError(t, err)
	twice, err := Decode(second)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.JSONEq(t, string(first.Body), string(second.Body))
}

func TestRoundTrip_LargeIntegers(t *testing.T) {
	const exact = int64(9007199254740993)

	for _, s := range []serializer.Serializer{serializer.JSON(), serializer.YAML(), serializer.CBOR()} {
		t.Run(s.ContentType(), func(t *testing.T) {
			in := task.New("worker.add", []any{exact}, map[string]any{"n": int64(1 << 62)})
			in.ContentType = s.ContentType()

			env, err := Encode(in, testOptions())
			require.NoError(t, err)
			out, err := Decode(env)
			require.NoError(t, err)

			require.Len(t, out.Args, 1)
			assert.EqualValues(t, exact, out.Args[0])
			assert.EqualValues(t, int64(1<<62), out.Kwargs["n"])

			again, err := Encode(out, testOptions())
			require.NoError(t, err)
			assert.Equal(t, env.Body, again.Body)
		})
	}
}

func TestRoundTrip_JSONIntegersStayInt64(t *testing.T) {
	in := task.New("worker.add", []any{int64(9007199254740993), -7}, map[string]any{"n": int64(1 << 62)})
	env, err := Encode(in, testOptions())
	require.NoError(t, err)
	assert.Contains(t, string(env.Body), "[9007199254740993,-7]")
	assert.Contains(t, string(env.Body), `"n":4611686018427387904`)

	out, err := Decode(env)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(9007199254740993), int64(-7)}, out.Args)
	assert.Equal(t, map[string]any{"n": int64(1 << 62)}, out.Kwargs)
}

func TestEncode_ProtobufRejectsInexactIntegers(t *testing.T) {
	in := task.New("worker.add", []any{int64(9007199254740993)}, nil)
	in.ContentType = serializer.Protobuf().ContentType()

	_, err := Encode(in, testOptions())
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "body", verr.Field)
}

func TestRoundTrip_KeepsProducerLang(t *testing.T) {
	env, err := Encode(task.New("worker.add", nil, nil), testOptions())
	require.NoError(t, err)
	env.Headers[HeaderLang] = "py"

	inv, err := Decode(env)
	require.NoError(t, err)
	assert.Equal(t, "py", inv.Lang)

	reenc, err := Encode(inv, testOptions())
	require.NoError(t, err)
	assert.Equal(t, "py", reenc.Headers[HeaderLang])
}

func TestRoundTrip_ThroughJSONHeaders(t *testing.T) {
	in := fullInvocation(serializer.JSON())
	env, err := Encode(in, testOptions())
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	var received Envelope
	require.NoError(t, json.Unmarshal(raw, &received))

	out, err := Decode(received)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncode_UniqueIDs(t *testing.T) {
	const n = 10000
	seen := make(map[string]struct{}, n)
	inv := task.New("worker.add", nil, nil)
	opts := testOptions()

	for i := 0; i < n; i++ {
		env, err := Encode(inv, opts)
		require.NoError(t, err)
		seen[env.ID()] = struct{}{}
	}

	assert.Len(t, seen, n)
}

func TestEncode_KeepsSuppliedID(t *testing.T) {
	inv := task.New("worker.add", nil, nil)
	inv.ID = "25abb5e6-d8c3-4b20-8dfb-7dc1be9ecf8f"

	env, err := Encode(inv, testOptions())
	require.NoError(t, err)
	assert.Equal(t, inv.ID, env.ID())
}

func TestEncode_DefaultsCorrelationID(t *testing.T) {
	env, err := Encode(task.New("worker.add", []any{}, map[string]any{}), testOptions())
	require.NoError(t, err)

	inv, err := Decode(env)
	require.NoError(t, err)
	assert.NotEmpty(t, inv.ID)
	assert.Equal(t, inv.ID, inv.CorrelationID)
	assert.Equal(t, inv.ID, inv.RootID)
}

func TestEncode_ChildHasNoDefaultRoot(t *testing.T) {
	inv := task.New("worker.add", nil, nil)
	inv.ParentID = "ddca66e4-c05a-487f-bd0f-f578dcbbb82e"

	env, err := Encode(inv, testOptions())
	require.NoError(t, err)
	assert.Nil(t, env.Headers[HeaderRootID])

	out, err := Decode(env)
	require.NoError(t, err)
	assert.Empty(t, out.RootID)
	assert.False(t, out.IsRoot())
}

func TestEncode_Validation(t *testing.T) {
	valid := func() task.Invocation { return task.New("worker.add", nil, nil) }

	tests := []struct {
		name  string
		mut   func(*task.Invocation)
		field string
	}{
		{"empty name", func(i *task.Invocation) { i.Name = "" }, HeaderTask},
		{"nil args", func(i *task.Invocation) { i.Args = nil }, "args"},
		{"nil kwargs", func(i *task.Invocation) { i.Kwargs = nil }, "kwargs"},
		{"negative retries", func(i *task.Invocation) { i.Retries = -1 }, HeaderRetries},
		{"priority too high", func(i *task.Invocation) { i.Routing.Priority = ptr(300) }, DeliveryPriority},
		{"unknown content type", func(i *task.Invocation) { i.ContentType = "application/x-python-serialize" }, HeaderContentType},
		{"mismatched encoding", func(i *task.Invocation) {
			i.ContentType = "application/cbor"
			i.ContentEncoding = "utf-8"
		}, HeaderContentEncoding},
		{"unserializable args", func(i *task.Invocation) { i.Args = []any{make(chan int)} }, "body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := valid()
			tt.mut(&inv)

			_, err := Encode(inv, testOptions())
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestEncode_OptionsSelectSerializer(t *testing.T) {
	opts := testOptions()
	opts.ContentType = "application/cbor"
	opts.ContentEncoding = ""

	env, err := Encode(task.New("worker.add", []any{1}, nil), opts)
	require.NoError(t, err)
	assert.Equal(t, "application/cbor", env.Headers[HeaderContentType])
	assert.Equal(t, "binary", env.Headers[HeaderContentEncoding])

	inv, err := Decode(env)
	require.NoError(t, err)
	assert.Equal(t, []any{uint64(1)}, inv.Args)
}

func TestDecode_MissingTaskName(t *testing.T) {
	env := Envelope{
		Headers: Headers{HeaderID: "6adc064d-759c-4588-b4c2-85ab798ff76b"},
		Body:    []byte(`[[], {}, null]`),
	}

	_, err := Decode(env)
	var merr *MissingFieldError
	require.True(t, errors.As(err, &merr), "got %v", err)
	assert.Equal(t, "task", merr.Field)
}

func TestDecode_MissingID(t *testing.T) {
	env := Envelope{
		Headers: Headers{HeaderTask: "worker.add", HeaderID: ""},
		Body:    []byte(`[[], {}, null]`),
	}

	_, err := Decode(env)
	var merr *MissingFieldError
	require.True(t, errors.As(err, &merr), "got %v", err)
	assert.Equal(t, "id", merr.Field)
}

func TestDecode_MalformedBody(t *testing.T) {
	tests := map[string]string{
		"two elements":     `[[1, 7], {}]`,
		"not a sequence":   `{"args": []}`,
		"args not a list":  `[{}, {}, null]`,
		"kwargs not a map": `[[], [], null]`,
		"options scalar":   `[[], {}, 3]`,
		"kwargs null":      `[[], null, null]`,
		"not json":         `[[1, 7`,
		"empty":            ``,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			env := Envelope{
				Headers: Headers{HeaderTask: "worker.add", HeaderID: "id-1"},
				Body:    []byte(body),
			}
			_, err := Decode(env)
			var berr *MalformedBodyError
			assert.True(t, errors.As(err, &berr), "got %v", err)
		})
	}
}

func TestDecode_InvalidUTF8Body(t *testing.T) {
	env := Envelope{
		Headers: Headers{HeaderTask: "worker.add", HeaderID: "id-1"},
		Body:    []byte{'[', 0xff, ']'},
	}
	_, err := Decode(env)
	var berr *MalformedBodyError
	assert.True(t, errors.As(err, &berr), "got %v", err)
}

func TestDecode_UnsupportedEncoding(t *testing.T) {
	tests := []struct {
		name    string
		headers Headers
		field   string
	}{
		{"content type", Headers{HeaderContentType: "application/x-python-serialize"}, HeaderContentType},
		{"content encoding", Headers{HeaderContentEncoding: "latin-1"}, HeaderContentEncoding},
		{"binary json", Headers{HeaderContentEncoding: "binary"}, HeaderContentEncoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.headers[HeaderTask] = "worker.add"
			tt.headers[HeaderID] = "id-1"
			_, err := Decode(Envelope{Headers: tt.headers, Body: []byte(`[[], {}, null]`)})

			var uerr *UnsupportedEncodingError
			require.True(t, errors.As(err, &uerr), "got %v", err)
			assert.Equal(t, tt.field, uerr.Field)
		})
	}
}

func TestDecode_EncodingChecksComeFirst(t *testing.T) {
	env := Envelope{
		Headers: Headers{HeaderContentType: "text/plain"},
		Body:    []byte(`not a body`),
	}
	_, err := Decode(env)
	var uerr *UnsupportedEncodingError
	assert.True(t, errors.As(err, &uerr), "got %v", err)
}

func TestDecode_InvalidHeaderValues(t *testing.T) {
	tests := []struct {
		field string
		key   string
		value any
	}{
		{HeaderRetries, HeaderRetries, "many"},
		{HeaderRetries, HeaderRetries, 1.5},
		{HeaderRetries, HeaderRetries, -1},
		{HeaderETA, HeaderETA, "yesterday"},
		{HeaderTimeLimit, HeaderTimeLimit, []any{1.0}},
		{HeaderDeliveryInfo, HeaderDeliveryInfo, "celery"},
		{"delivery_info.priority", HeaderDeliveryInfo, map[string]any{DeliveryPriority: "high"}},
		{"delivery_info.priority", HeaderDeliveryInfo, map[string]any{DeliveryPriority: 256}},
		{"delivery_info.priority", HeaderDeliveryInfo, map[string]any{DeliveryPriority: float64(-1)}},
		{HeaderParentID, HeaderParentID, map[string]any{"id": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			h := Headers{HeaderTask: "worker.add", HeaderID: "id-1", tt.key: tt.value}
			_, err := Decode(Envelope{Headers: h, Body: []byte(`[[], {}, null]`)})

			var ierr *InvalidFieldError
			require.True(t, errors.As(err, &ierr), "got %v", err)
			assert.Equal(t, tt.field, ierr.Field)
		})
	}
}

func TestDecode_PythonProducerHeaders(t *testing.T) {
	env := Envelope{
		Headers: Headers{
			"lang":       "py",
			"task":       "worker.add_reflect",
			"id":         "0348a99e-129b-452c-86b4-238dd26164b7",
			"group":      nil,
			"group_id":   "4c7d5441-cf3e-45a5-8785-7944662f9d4f",
			"root_id":    "0348a99e-129b-452c-86b4-238dd26164b7",
			"retries":    float64(1),
			"timelimit":  []any{nil, float64(10)},
			"eta":        "2018-11-19T00:06:54",
			"expires":    "2018-11-19T00:08:29.5+01:00",
			"argsrepr":   "()",
			"kwargsrepr": "{'y': 2878, 'x': 5456}",
			"delivery_info": map[string]any{
				"priority":    float64(0),
				"redelivered": nil,
				"routing_key": "celery",
				"exchange":    "",
			},
			"stamps": map[string]any{"origin": "beat"},
		},
		Body: []byte(`[[], {"y": 2878, "x": 5456}, {"chord": null, "callbacks": null, "errbacks": null, "chain": null}]`),
	}

	inv, err := Decode(env)
	require.NoError(t, err)

	assert.Equal(t, "worker.add_reflect", inv.Name)
	assert.Equal(t, "4c7d5441-cf3e-45a5-8785-7944662f9d4f", inv.GroupID)
	assert.Equal(t, 1, inv.Retries)
	assert.Nil(t, inv.TimeLimit.Hard)
	assert.Equal(t, 10.0, *inv.TimeLimit.Soft)
	assert.Equal(t, time.Date(2018, 11, 19, 0, 6, 54, 0, time.UTC), *inv.ETA)
	assert.Equal(t, time.Date(2018, 11, 18, 23, 8, 29, 500000000, time.UTC), *inv.Expires)
	assert.Equal(t, 0, *inv.Routing.Priority)
	assert.Nil(t, inv.Routing.Redelivered)
	assert.Equal(t, "celery", inv.Routing.RoutingKey)
	assert.Equal(t, int64(5456), inv.Kwargs["x"])
	assert.Equal(t, "py", inv.Lang)
	assert.Equal(t, map[string]any{"stamps": map[string]any{"origin": "beat"}}, inv.Extra)

	reenc, err := Encode(inv, testOptions())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"origin": "beat"}, reenc.Headers["stamps"])
	assert.Equal(t, "4c7d5441-cf3e-45a5-8785-7944662f9d4f", reenc.Headers[HeaderGroup])
	assert.Equal(t, "{'x': 5456, 'y': 2878}", reenc.Headers[HeaderKwargsRepr])
	assert.Equal(t, "py", reenc.Headers[HeaderLang])
}

func TestEnvelope_Clone(t *testing.T) {
	env, err := Encode(task.New("worker.add", []any{1}, nil), testOptions())
	require.NoError(t, err)

	c := env.Clone()
	c.Headers[HeaderRetries] = 3
	c.Headers[HeaderDeliveryInfo].(map[string]any)[DeliveryRedelivered] = true
	c.Body[0] = ' '

	assert.Equal(t, 0, env.Headers[HeaderRetries])
	assert.Nil(t, env.Headers[HeaderDeliveryInfo].(map[string]any)[DeliveryRedelivered])
	assert.Equal(t, byte('['), env.Body[0])
}

func TestCodec_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	errs := make(chan error, 64)

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			env, err := Encode(task.New("worker.add", []any{int64(n)}, nil), testOptions())
			if err != nil {
				errs <- err
				return
			}
			inv, err := Decode(env)
			if err != nil {
				errs <- err
				return
			}
			if inv.Args[0] != int64(n) {
				errs <- errors.New("argument mismatch")
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
