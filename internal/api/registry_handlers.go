package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/annel0/blockcodec/internal/registry"
	"github.com/gin-gonic/gin"
)

// StateView разрешённое состояние блока в ответах API
type StateView struct {
	ID         uint32            `json:"id"`
	Tag        string            `json:"tag"`
	Relative   uint32            `json:"relative"`
	Properties map[string]string `json:"properties,omitempty"`
	State      string            `json:"state"`
	Air        bool              `json:"air,omitempty"`
}

func (s *Server) stateView(id registry.GlobalID) (StateView, bool) {
	st, ok := s.registry.ResolveFull(id)
	if !ok {
		return StateView{}, false
	}
	rel, err := st.Relative()
	if err != nil {
		return StateView{}, false
	}
	return StateView{
		ID:         uint32(id),
		Tag:        st.Type.Tag,
		Relative:   uint32(rel),
		Properties: st.Properties(),
		State:      st.String(),
		Air:        st.Type.Air,
	}, true
}

func (s *Server) handleRegistry(c *gin.Context) {
	v := s.registry.Version()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Data: gin.H{
			"version":     v.Name,
			"protocol":    v.Protocol,
			"frozen":      s.registry.Frozen(),
			"types":       s.registry.Len(),
			"states":      s.registry.TotalStates(),
			"global_bits": s.registry.GlobalBits(),
			"ranges":      s.registry.Ranges(),
		},
	})
}

// GET /api/registry/resolve/:id
func (s *Server) handleResolve(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, "Некорректный ID: %s", c.Param("id"))
		return
	}

	view, ok := s.stateView(registry.GlobalID(id))
	if !ok {
		fail(c, http.StatusNotFound, "ID %d вне реестра %s", id, s.registry.Version())
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: view})
}

// GET /api/registry/global?tag=minecraft:lever&props=face=wall,powered=true
func (s *Server) handleGlobal(c *gin.Context) {
	tag := c.Query("tag")
	if tag == "" {
		fail(c, http.StatusBadRequest, "Параметр tag обязателен")
		return
	}
	props, err := parseProps(c.Query("props"))
	if err != nil {
		fail(c, http.StatusBadRequest, "%v", err)
		return
	}

	id, err := s.registry.StateOf(tag, props)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, registry.ErrUnregisteredType) {
			status = http.StatusNotFound
		}
		fail(c, status, "%v", err)
		return
	}

	view, _ := s.stateView(id)
	c.JSON(http.StatusOK, GenericResponse{Success: true, Data: view})
}

// parseProps разбирает "k=v,k=v"
func parseProps(raw string) (map[string]string, error) {
	props := make(map[string]string)
	if raw == "" {
		return props, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, errors.New("props: ожидается формат имя=значение через запятую")
		}
		if _, dup := props[k]; dup {
			return nil, fmt.Errorf("props: свойство %s указано дважды", k)
		}
		props[k] = v
	}
	return props, nil
}
