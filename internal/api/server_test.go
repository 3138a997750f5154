package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/annel0/blockcodec/internal/attribute"
	"github.com/annel0/blockcodec/internal/convert"
	"github.com/annel0/blockcodec/internal/registry"
	"github.com/annel0/blockcodec/internal/section"
	"github.com/annel0/blockcodec/internal/storage"
	"github.com/annel0/blockcodec/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRegistry(v registry.Version, tags ...string) *registry.Registry {
	reg := registry.New(v)
	for _, tag := range tags {
		switch tag {
		case "minecraft:air":
			reg.Register(&registry.BlockType{Tag: tag, Air: true})
		case "minecraft:oak_log":
			reg.Register(&registry.BlockType{
				Tag:        tag,
				Attributes: attribute.Tuple{attribute.NewEnum("axis", "x", "y", "z")},
				Default:    []uint32{1},
			})
		default:
			reg.Register(&registry.BlockType{Tag: tag})
		}
	}
	reg.Freeze()
	return reg
}

// air=0, stone=1, oak_log[axis=x..z]=2..4
func testRegistry() *registry.Registry {
	return buildRegistry(registry.Version{Protocol: 764, Name: "1.20.2"},
		"minecraft:air", "minecraft:stone", "minecraft:oak_log")
}

type recordingReporter struct {
	mu        sync.Mutex
	discarded []section.Discarded
}

func (r *recordingReporter) ReportDiscarded(_ context.Context, d section.Discarded) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discarded = append(r.discarded, d)
}

func (r *recordingReporter) reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.discarded))
	for _, d := range r.discarded {
		out = append(out, string(d.Reason))
	}
	return out
}

type testEnv struct {
	server   *Server
	reg      *registry.Registry
	layout   section.Layout
	reporter *recordingReporter
	store    *storage.SectionStore
}

func newTestEnv(t *testing.T, withStore bool) *testEnv {
	reg := testRegistry()
	layout := section.ForRegistry(reg, 6)
	env := &testEnv{reg: reg, layout: layout, reporter: &recordingReporter{}}

	if withStore {
		store, err := storage.NewInMemorySectionStore(layout)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		env.store = store
	}

	target := buildRegistry(registry.Version{Protocol: 765, Name: "1.20.4"},
		"minecraft:air", "minecraft:granite", "minecraft:stone", "minecraft:oak_log")
	tr, err := convert.NewTranslator(reg, target, []*convert.Bridge{convert.CommonBridge(reg, target)})
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	srv, err := NewServer(Config{
		NodeID:          "test-node",
		Registry:        reg,
		Layout:          layout,
		Translators:     map[string]*convert.Translator{"1.20.4": tr},
		Store:           env.store,
		Reporter:        env.reporter,
		Workers:         2,
		MaxPayloadBytes: 4096,
		Registerer:      promReg,
		Gatherer:        promReg,
	})
	require.NoError(t, err)
	env.server = srv
	return env
}

func (e *testEnv) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

// sampleSection: нижний слой камня и одно бревно по оси y
func (e *testEnv) sampleSection(t *testing.T) (*section.Section, []byte) {
	sec := section.New(e.layout)
	for x := 0; x < section.Size; x++ {
		for z := 0; z < section.Size; z++ {
			_, err := sec.SetBlock(x, 0, z, 1)
			require.NoError(t, err)
		}
	}
	_, err := sec.SetBlock(5, 5, 5, 3)
	require.NoError(t, err)

	data, err := section.Marshal(sec)
	require.NoError(t, err)
	return sec, data
}

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, data interface{}) response {
	var resp response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Ответ должен быть JSON: %s", w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp
}

func TestNewServerRequiresRegistry(t *testing.T) {
	_, err := NewServer(Config{Registerer: prometheus.NewRegistry()})
	assert.Error(t, err)
}

func TestHealthAndStats(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"node":"test-node"`)
	assert.NotEmpty(t, w.Header().Get("X-Trace-Id"), "Каждый ответ должен нести trace-ID")

	w = env.do(http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Process  ProcessStats           `json:"process"`
		Registry map[string]interface{} `json:"registry"`
	}
	resp := decodeResponse(t, w, &stats)
	assert.True(t, resp.Success)
	assert.Greater(t, stats.Process.Goroutines, 0)
	assert.Equal(t, float64(5), stats.Registry["states"])
}

func TestRegistryEndpoints(t *testing.T) {
	env := newTestEnv(t, false)

	t.Run("ranges", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/registry", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var data struct {
			Version string               `json:"version"`
			Ranges  []registry.RangeInfo `json:"ranges"`
		}
		decodeResponse(t, w, &data)
		assert.Equal(t, "1.20.2", data.Version)
		assert.Equal(t, env.reg.Ranges(), data.Ranges)
	})

	t.Run("resolve", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/registry/resolve/4", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var view StateView
		decodeResponse(t, w, &view)
		assert.Equal(t, "minecraft:oak_log", view.Tag)
		assert.Equal(t, uint32(2), view.Relative)
		assert.Equal(t, map[string]string{"axis": "z"}, view.Properties)
		assert.Equal(t, "minecraft:oak_log[axis=z]", view.State)

		assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/registry/resolve/99", nil).Code)
		assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/registry/resolve/abc", nil).Code)
	})

	t.Run("global", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/registry/global?tag=minecraft:oak_log&props=axis=x", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var view StateView
		decodeResponse(t, w, &view)
		assert.Equal(t, uint32(2), view.ID)

		// Без свойств берётся состояние по умолчанию
		w = env.do(http.MethodGet, "/api/registry/global?tag=minecraft:oak_log", nil)
		decodeResponse(t, w, &view)
		assert.Equal(t, uint32(3), view.ID)

		assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/registry/global?tag=minecraft:dirt", nil).Code)
		assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/registry/global?tag=minecraft:oak_log&props=axis=w", nil).Code)
		assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/registry/global?tag=minecraft:oak_log&props=axis", nil).Code)
		assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/registry/global", nil).Code)
	})
}

func TestDecodeSection(t *testing.T) {
	env := newTestEnv(t, false)
	_, data := env.sampleSection(t)

	w := env.do(http.MethodPost, "/api/sections/decode", data)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var view SectionView
	decodeResponse(t, w, &view)
	assert.Equal(t, int16(257), view.BlockCount)
	assert.False(t, view.Empty)
	assert.Equal(t, "vector", view.Blocks.Kind)
	assert.ElementsMatch(t, []uint32{0, 1, 3}, view.Blocks.Palette)
	assert.Equal(t, "single", view.Biomes.Kind)

	require.Len(t, view.Usage, 3)
	assert.Equal(t, BlockUsage{ID: 0, State: "minecraft:air", Count: section.Volume - 257}, view.Usage[0])
	assert.Equal(t, BlockUsage{ID: 1, State: "minecraft:stone", Count: 256}, view.Usage[1])
	assert.Equal(t, BlockUsage{ID: 3, State: "minecraft:oak_log[axis=y]", Count: 1}, view.Usage[2])
	assert.Empty(t, env.reporter.reasons())
}

func TestDecodeSectionErrors(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodPost, "/api/sections/decode", []byte{0x00})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, []string{"truncated"}, env.reporter.reasons(), "Некорректная секция должна попасть в reporter")

	w = env.do(http.MethodPost, "/api/sections/decode", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/sections/decode", make([]byte, 8192))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestDecodeBatch(t *testing.T) {
	env := newTestEnv(t, false)
	_, good := env.sampleSection(t)

	body, err := json.Marshal(BatchRequest{Payloads: [][]byte{good, {0x00}, good}})
	require.NoError(t, err)

	w := env.do(http.MethodPost, "/api/sections/batch", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		Decoded   int             `json:"decoded"`
		Sections  []*SectionView  `json:"sections"`
		Discarded []DiscardedView `json:"discarded"`
	}
	decodeResponse(t, w, &data)
	assert.Equal(t, 2, data.Decoded)
	require.Len(t, data.Sections, 3)
	assert.Nil(t, data.Sections[1], "Отброшенная секция не должна иметь сводки")
	assert.Equal(t, int16(257), data.Sections[2].BlockCount)
	require.Len(t, data.Discarded, 1)
	assert.Equal(t, 1, data.Discarded[0].Index)
	assert.Equal(t, "truncated", data.Discarded[0].Reason)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/sections/batch", []byte("{")).Code)
}

func TestTranslateSection(t *testing.T) {
	env := newTestEnv(t, false)
	_, data := env.sampleSection(t)

	w := env.do(http.MethodPost, "/api/sections/translate/1.20.4", data)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, octetStream, w.Header().Get("Content-Type"))

	target := buildRegistry(registry.Version{Protocol: 765, Name: "1.20.4"},
		"minecraft:air", "minecraft:granite", "minecraft:stone", "minecraft:oak_log")
	out, err := section.Unmarshal(section.ForRegistry(target, 6), w.Body.Bytes())
	require.NoError(t, err)

	// stone: 1 -> 2, oak_log[axis=y]: 3 -> 4
	assert.Equal(t, uint32(2), out.Block(0, 0, 0))
	assert.Equal(t, uint32(4), out.Block(5, 5, 5))
	assert.Equal(t, uint32(0), out.Block(1, 1, 1))
	assert.Equal(t, int16(257), out.BlockCount, "Счётчик пересчитывается по воздуху цели")

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/sections/translate/1.12", data).Code)
}

func TestSectionStorage(t *testing.T) {
	env := newTestEnv(t, true)
	sec, data := env.sampleSection(t)

	w := env.do(http.MethodGet, "/api/sections/1/-2/3", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPut, "/api/sections/1/-2/3", data)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(http.MethodGet, "/api/sections/1/-2/3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view SectionView
	decodeResponse(t, w, &view)
	assert.Equal(t, int16(257), view.BlockCount)

	w = env.do(http.MethodGet, "/api/sections/1/-2/3?format=raw", nil)
	require.Equal(t, http.StatusOK, w.Code)
	loaded, err := section.Unmarshal(env.layout, w.Body.Bytes())
	require.NoError(t, err)
	assert.True(t, sec.Equal(loaded), "Секция должна пережить сохранение")

	keys, err := env.store.Keys(context.Background(), "1.20.2")
	require.NoError(t, err)
	assert.Equal(t, []storage.SectionKey{{Version: "1.20.2", X: 1, Y: -2, Z: 3}}, keys)

	w = env.do(http.MethodDelete, "/api/sections/1/-2/3", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/sections/1/-2/3", nil).Code)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/sections/a/0/0", nil).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, env.do(http.MethodPut, "/api/sections/0/0/0", []byte{0x01}).Code)
}

func TestSectionStorageDisabled(t *testing.T) {
	env := newTestEnv(t, false)
	assert.Equal(t, http.StatusNotImplemented, env.do(http.MethodGet, "/api/sections/0/0/0", nil).Code)
	assert.Equal(t, http.StatusNotImplemented, env.do(http.MethodGet, "/api/columns/0/0", nil).Code)
}

func TestSectionColumn(t *testing.T) {
	env := newTestEnv(t, true)
	sec, data := env.sampleSection(t)

	for _, y := range []string{"0", "1"} {
		w := env.do(http.MethodPut, "/api/sections/1/"+y+"/3", data)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := env.do(http.MethodGet, "/api/columns/1/3?from=0&to=2", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var view ColumnView
	decodeResponse(t, w, &view)
	require.Len(t, view.Sections, 2)
	assert.Equal(t, int32(1), view.Sections[1].Y)
	assert.Equal(t, int16(257), view.Sections[0].Section.BlockCount)
	assert.Equal(t, []int32{2}, view.Missing)

	w = env.do(http.MethodGet, "/api/columns/1/3?from=0&to=2&format=raw", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "Неполный столбец не отдаётся в сетевом формате")

	w = env.do(http.MethodGet, "/api/columns/1/3?from=0&to=1&format=raw", nil)
	require.Equal(t, http.StatusOK, w.Code)
	r := wire.NewReader(bytes.NewReader(w.Body.Bytes()))
	column, err := section.DecodeColumn(env.layout, r, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(w.Body.Len()), r.Offset())
	for _, got := range column {
		assert.True(t, sec.Equal(got))
	}

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/columns/1/3?from=5&to=1", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/columns/1/3?from=0&to=64", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/columns/x/3", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false)
	env.do(http.MethodGet, "/health", nil)
	env.do(http.MethodGet, "/nope", nil)

	w := env.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `blockcodec_http_request_duration_seconds_count{method="GET",path="/health",status="200"} 1`)
	assert.Contains(t, body, `blockcodec_http_request_errors_total{method="GET",path="unmatched",status="404"} 1`)
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "42с", FormatUptime(42e9))
	assert.Equal(t, "1м 5с", FormatUptime(65e9))
	assert.Equal(t, "2ч 0м 1с", FormatUptime(7201e9))
	assert.Equal(t, "1д 1ч 0м 0с", FormatUptime(90000e9))
}
