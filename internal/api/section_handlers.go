package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/annel0/blockcodec/internal/palette"
	"github.com/annel0/blockcodec/internal/registry"
	"github.com/annel0/blockcodec/internal/section"
	"github.com/annel0/blockcodec/internal/storage"
	"github.com/annel0/blockcodec/internal/wire"
	"github.com/gin-gonic/gin"
)

const octetStream = "application/octet-stream"

// ContainerView описывает палитровый контейнер секции
type ContainerView struct {
	Kind    string   `json:"kind"`
	Bits    int      `json:"bits"`
	Palette []uint32 `json:"palette,omitempty"`
}

// BlockUsage сколько ячеек секции занимает состояние
type BlockUsage struct {
	ID    uint32 `json:"id"`
	State string `json:"state"`
	Count int    `json:"count"`
}

// SectionView сводка по декодированной секции
type SectionView struct {
	BlockCount int16         `json:"block_count"`
	Empty      bool          `json:"empty"`
	Blocks     ContainerView `json:"blocks"`
	Biomes     ContainerView `json:"biomes"`
	Usage      []BlockUsage  `json:"usage"`
}

func containerView(c *palette.Container) ContainerView {
	return ContainerView{
		Kind:    c.Kind().String(),
		Bits:    c.Bits(),
		Palette: c.Palette(),
	}
}

func (s *Server) sectionView(sec *section.Section) SectionView {
	counts := make(map[uint32]int)
	for _, v := range sec.Blocks.Values() {
		counts[v]++
	}

	usage := make([]BlockUsage, 0, len(counts))
	for id, n := range counts {
		u := BlockUsage{ID: id, Count: n, State: "unknown"}
		if st, ok := s.registry.ResolveFull(registry.GlobalID(id)); ok {
			u.State = st.String()
		}
		usage = append(usage, u)
	}
	sort.Slice(usage, func(i, j int) bool {
		if usage[i].Count != usage[j].Count {
			return usage[i].Count > usage[j].Count
		}
		return usage[i].ID < usage[j].ID
	})

	return SectionView{
		BlockCount: sec.BlockCount,
		Empty:      sec.IsEmpty(),
		Blocks:     containerView(sec.Blocks),
		Biomes:     containerView(sec.Biomes),
		Usage:      usage,
	}
}

// readBody читает тело запроса с ограничением размера
func (s *Server) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxPayload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, "Тело запроса больше %d байт", s.maxPayload)
			return nil, false
		}
		fail(c, http.StatusBadRequest, "Ошибка чтения тела: %v", err)
		return nil, false
	}
	if len(body) == 0 {
		fail(c, http.StatusBadRequest, "Пустое тело запроса")
		return nil, false
	}
	return body, true
}

// decodeBody декодирует секцию из тела; некорректная секция передаётся reporter
func (s *Server) decodeBody(c *gin.Context) (*section.Section, bool) {
	body, ok := s.readBody(c)
	if !ok {
		return nil, false
	}

	sec, err := section.Unmarshal(s.layout, body)
	if err != nil {
		reason := palette.ReasonOf(err)
		s.reporter.ReportDiscarded(c.Request.Context(), section.Discarded{
			Reason: reason,
			Err:    err,
			Data:   body,
		})
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, GenericResponse{
			Success: false,
			Message: err.Error(),
			Data:    gin.H{"reason": reason},
		})
		return nil, false
	}
	return sec, true
}

// POST /api/sections/decode: тело содержит одну секцию в сетевом формате
func (s *Server) handleDecode(c *gin.Context) {
	sec, ok := s.decodeBody(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: s.sectionView(sec)})
}

// BatchRequest тело POST /api/sections/batch; секции передаются в base64
type BatchRequest struct {
	Payloads [][]byte `json:"payloads" binding:"required"`
}

// DiscardedView отброшенная секция пакета
type DiscardedView struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

func (s *Server) handleBatch(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxPayload)

	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Некорректный запрос: %v", err)
		return
	}

	res, err := section.DecodeBatch(c.Request.Context(), req.Payloads, section.BatchOptions{
		Layout:   s.layout,
		Workers:  s.workers,
		Reporter: s.reporter,
	})
	if err != nil {
		fail(c, http.StatusServiceUnavailable, "Декодирование прервано: %v", err)
		return
	}

	views := make([]*SectionView, len(res.Sections))
	for i, sec := range res.Sections {
		if sec != nil {
			v := s.sectionView(sec)
			views[i] = &v
		}
	}
	discarded := make([]DiscardedView, 0, len(res.Discarded))
	for _, d := range res.Discarded {
		discarded = append(discarded, DiscardedView{Index: d.Index, Reason: string(d.Reason), Error: d.Err.Error()})
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Data: gin.H{
			"decoded":   res.Decoded(),
			"sections":  views,
			"discarded": discarded,
		},
	})
}

// POST /api/sections/translate/:target: переводит секцию в ID другой версии
// и возвращает её в сетевом формате
func (s *Server) handleTranslate(c *gin.Context) {
	tr, ok := s.translators[c.Param("target")]
	if !ok {
		fail(c, http.StatusNotFound, "Нет перевода в версию %s", c.Param("target"))
		return
	}
	sec, ok := s.decodeBody(c)
	if !ok {
		return
	}

	blocks, err := tr.TranslateContainer(sec.Blocks)
	if err != nil {
		fail(c, http.StatusUnprocessableEntity, "Перевод: %v", err)
		return
	}
	target := section.ForRegistry(tr.Target(), 0)
	target.Biomes = s.layout.Biomes
	out := sec.Rebase(target, blocks)

	data, err := section.Marshal(out)
	if err != nil {
		fail(c, http.StatusInternalServerError, "Кодирование: %v", err)
		return
	}
	c.Data(http.StatusOK, octetStream, data)
}

func (s *Server) sectionKey(c *gin.Context) (storage.SectionKey, bool) {
	var coords [3]int32
	for i, name := range []string{"x", "y", "z"} {
		v, ok := parseInt32(c, name, c.Param(name))
		if !ok {
			return storage.SectionKey{}, false
		}
		coords[i] = v
	}
	return storage.SectionKey{
		Version: s.registry.Version().Name,
		X:       coords[0],
		Y:       coords[1],
		Z:       coords[2],
	}, true
}

func (s *Server) requireStore(c *gin.Context) bool {
	if s.store == nil {
		fail(c, http.StatusNotImplemented, "Хранилище секций не настроено")
		return false
	}
	return true
}

// GET /api/sections/:x/:y/:z; ?format=raw возвращает сетевой формат
func (s *Server) handleGetSection(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	key, ok := s.sectionKey(c)
	if !ok {
		return
	}

	var (
		sec   *section.Section
		found bool
		err   error
	)
	if s.cache != nil {
		sec, found, err = s.cache.Get(c.Request.Context(), key)
	} else {
		sec, found, err = s.store.Load(c.Request.Context(), key)
	}
	if err != nil {
		s.logger.Error("Чтение секции %s: %v", key, err)
		fail(c, http.StatusInternalServerError, "Ошибка чтения секции")
		return
	}
	if !found {
		fail(c, http.StatusNotFound, "Секция %s не найдена", key)
		return
	}

	if c.Query("format") == "raw" {
		data, err := section.Marshal(sec)
		if err != nil {
			fail(c, http.StatusInternalServerError, "Кодирование: %v", err)
			return
		}
		c.Data(http.StatusOK, octetStream, data)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: s.sectionView(sec)})
}

// PUT /api/sections/:x/:y/:z: тело содержит секцию в сетевом формате
func (s *Server) handlePutSection(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	key, ok := s.sectionKey(c)
	if !ok {
		return
	}
	sec, ok := s.decodeBody(c)
	if !ok {
		return
	}

	if err := s.store.Save(c.Request.Context(), key, sec); err != nil {
		s.logger.Error("Запись секции %s: %v", key, err)
		fail(c, http.StatusInternalServerError, "Ошибка записи секции")
		return
	}
	s.invalidate(c, key)

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Секция сохранена",
		Data:    gin.H{"key": key.String(), "block_count": sec.BlockCount},
	})
}

func (s *Server) handleDeleteSection(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	key, ok := s.sectionKey(c)
	if !ok {
		return
	}

	if err := s.store.Delete(c.Request.Context(), key); err != nil {
		s.logger.Error("Удаление секции %s: %v", key, err)
		fail(c, http.StatusInternalServerError, "Ошибка удаления секции")
		return
	}
	s.invalidate(c, key)
	c.Status(http.StatusNoContent)
}

// invalidate сбрасывает секцию в кеше всех узлов
func (s *Server) invalidate(c *gin.Context, key storage.SectionKey) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(c.Request.Context(), key); err != nil {
		s.logger.Warn("Инвалидация кеша %s: %v", key, err)
	}
}

// maxColumnSections предел высоты столбца в одном запросе
const maxColumnSections = 64

// ColumnEntry секция столбца с её координатой Y
type ColumnEntry struct {
	Y       int32       `json:"y"`
	Section SectionView `json:"section"`
}

// ColumnView столбец секций от From до To включительно
type ColumnView struct {
	X        int32         `json:"x"`
	Z        int32         `json:"z"`
	From     int32         `json:"from"`
	To       int32         `json:"to"`
	Sections []ColumnEntry `json:"sections"`
	Missing  []int32       `json:"missing"`
}

func parseInt32(c *gin.Context, name, value string) (int32, bool) {
	v, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, "Некорректная координата %s: %s", name, value)
		return 0, false
	}
	return int32(v), true
}

// GET /api/columns/:x/:z?from=&to=: секции столбца снизу вверх.
// ?format=raw возвращает столбец подряд в сетевом формате, если все секции есть.
func (s *Server) handleGetColumn(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	x, ok := parseInt32(c, "x", c.Param("x"))
	if !ok {
		return
	}
	z, ok := parseInt32(c, "z", c.Param("z"))
	if !ok {
		return
	}
	from, ok := parseInt32(c, "from", c.DefaultQuery("from", "0"))
	if !ok {
		return
	}
	to, ok := parseInt32(c, "to", c.DefaultQuery("to", "15"))
	if !ok {
		return
	}
	if to < from || int64(to)-int64(from) >= maxColumnSections {
		fail(c, http.StatusBadRequest, "Диапазон Y [%d,%d] пуст или длиннее %d секций", from, to, maxColumnSections)
		return
	}

	version := s.registry.Version().Name
	keys := make([]storage.SectionKey, 0, int(to-from)+1)
	for y := from; y <= to; y++ {
		keys = append(keys, storage.SectionKey{Version: version, X: x, Y: y, Z: z})
	}

	sections, err := s.loadColumn(c, keys)
	if err != nil {
		s.logger.Error("Чтение столбца %d,%d: %v", x, z, err)
		fail(c, http.StatusInternalServerError, "Ошибка чтения столбца")
		return
	}

	view := ColumnView{X: x, Z: z, From: from, To: to, Sections: []ColumnEntry{}, Missing: []int32{}}
	for i, sec := range sections {
		if sec == nil {
			view.Missing = append(view.Missing, keys[i].Y)
			continue
		}
		view.Sections = append(view.Sections, ColumnEntry{Y: keys[i].Y, Section: s.sectionView(sec)})
	}

	if c.Query("format") != "raw" {
		c.JSON(http.StatusOK, GenericResponse{Success: true, Data: view})
		return
	}
	if len(view.Missing) > 0 {
		fail(c, http.StatusNotFound, "В столбце нет секций %v", view.Missing)
		return
	}
	var buf bytes.Buffer
	if err := section.EncodeColumn(wire.NewWriter(&buf), sections); err != nil {
		fail(c, http.StatusInternalServerError, "Кодирование: %v", err)
		return
	}
	c.Data(http.StatusOK, octetStream, buf.Bytes())
}

// loadColumn читает секции через кеш, если он есть; nil на месте отсутствующих
func (s *Server) loadColumn(c *gin.Context, keys []storage.SectionKey) ([]*section.Section, error) {
	ctx := c.Request.Context()
	if s.cache != nil {
		return s.cache.GetMany(ctx, keys)
	}
	out := make([]*section.Section, len(keys))
	for i, key := range keys {
		sec, found, err := s.store.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			out[i] = sec
		}
	}
	return out, nil
}
