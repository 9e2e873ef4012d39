package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/priyankagnana/Kanvo/domain"
)

const (
	maxBodySize = 1 << 20

	headerScopeVersion       = "X-Scope-Version"
	headerSourceScopeVersion = "X-Source-Scope-Version"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc Services, auth Authenticator, logger *log.Logger) {
	if svc.Views == nil {
		if views, ok := svc.Boards.(BoardViews); ok {
			svc.Views = views
		}
	}
	if svc.Updates == nil && svc.Stream != nil {
		svc.Updates = svc.Stream
	}
	e.JSONSerializer = sonicSerializer{}

	e.GET("/healthz", healthz())

	v1 := e.Group("/api/v1", requireUser(auth))
	v1.POST("/boards", createBoard(svc))
	v1.GET("/boards", listBoards(svc))
	v1.PUT("/boards", reorderBoards(svc, logger), idempotent(svc.Deduper))
	v1.GET("/boards/favourites", listFavourites(svc))
	v1.PUT("/boards/favourites", reorderFavourites(svc, logger), idempotent(svc.Deduper))
	v1.GET("/boards/:boardId", getBoard(svc))
	v1.PUT("/boards/:boardId", updateBoard(svc, logger))
	v1.DELETE("/boards/:boardId", deleteBoard(svc, logger))

	v1.POST("/boards/:boardId/sections", createSection(svc))
	v1.PUT("/boards/:boardId/sections/:sectionId", renameSection(svc))
	v1.DELETE("/boards/:boardId/sections/:sectionId", deleteSection(svc))

	v1.POST("/boards/:boardId/tasks", createTask(svc))
	v1.GET("/boards/:boardId/tasks/search", searchTasks(svc))
	v1.PUT("/boards/:boardId/tasks/update-position", updateTaskPositions(svc, logger), idempotent(svc.Deduper))
	v1.PUT("/boards/:boardId/tasks/:taskId", updateTask(svc))
	v1.DELETE("/boards/:boardId/tasks/:taskId", deleteTask(svc, logger))

	if svc.Stream != nil {
		v1.GET("/stream", streamUpdates(svc.Stream))
	}
}

type idRef struct {
	ID string `json:"id"`
}

func refIDs(refs []idRef) []string {
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids
}

type reorderBody struct {
	Boards  []idRef `json:"boards"`
	Version *int64  `json:"version,omitempty"`
}

type positionBody struct {
	ResourceList         []idRef `json:"resourceList"`
	DestinationList      []idRef `json:"destinationList"`
	ResourceSectionID    string  `json:"resourceSectionId"`
	DestinationSectionID string  `json:"destinationSectionId"`
	ResourceVersion      *int64  `json:"resourceVersion,omitempty"`
	DestinationVersion   *int64  `json:"destinationVersion,omitempty"`
}

type createTaskBody struct {
	SectionID string `json:"sectionId"`
}

type renameSectionBody struct {
	Title string `json:"title"`
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// decodeBody reads a JSON request body of at most maxBodySize bytes.
func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	if err := sonic.ConfigStd.NewDecoder(lr).Decode(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body").SetInternal(err)
	}
	return nil
}

// handle maps the error of fn onto a response.
func handle(fn func(c echo.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := fn(c)
		if err == nil || c.Response().Committed {
			return err
		}
		return writeError(c, err)
	}
}

// observed is handle plus one orderingRequestMetrics record per request.
func observed(route string, logger *log.Logger, fn func(c echo.Context, m *orderingRequestMetrics) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		m, ctx := newOrderingRequestMetrics(c.Request().Context(), logger, route)
		c.SetRequest(c.Request().WithContext(ctx))
		if d, ok := c.Get(authDurationKey).(time.Duration); ok {
			m.ObserveAuth(d)
		}

		err := fn(c, m)
		if err != nil && !c.Response().Committed {
			status := statusFor(err)
			m.SetErrorStage(errorStage(status))
			werr := writeError(c, err)
			m.Log(status, err)
			return werr
		}
		m.Log(c.Response().Status, err)
		return err
	}
}

func (s Services) changed(c echo.Context, u Update, lists bool) {
	ctx := c.Request().Context()
	if s.Cache != nil {
		if lists {
			var boards []string
			if u.BoardID != "" {
				boards = append(boards, u.BoardID)
			}
			s.Cache.Evict(ctx, u.UserID, boards...)
		} else {
			s.Cache.EvictBoard(ctx, u.UserID, u.BoardID)
		}
	}
	if s.Updates != nil {
		s.Updates.Publish(ctx, u)
	}
}

// partiallyWritten reports whether err left some rows of a batched write in
// the store. Cached views are stale in that case even though the request
// failed.
func partiallyWritten(err error) bool {
	var partial *domain.PartialWriteError
	return errors.As(err, &partial)
}

func setVersion(c echo.Context, header string, v int64) {
	c.Response().Header().Set(header, strconv.FormatInt(v, 10))
}

func createBoard(svc Services) echo.HandlerFunc {
	return handle(func(c echo.Context) error {
		userID := userIDFrom(c)
		b, err := svc.Boards.Create(c.Request().Context(), userID)
		if err != nil {
			return err
		}
		svc.changed(c, Update{UserID: userID, BoardID: b.ID, Scope: string(domain.ScopeBoards)}, true)
		return c.JSON(http.StatusCreated, b)
	})
}

func listBoards(svc Services) echo.HandlerFunc {
	return handle(func(c echo.Context) error {
		list, err := svc.Views.List(c.Request().Context(), userIDFrom(c))
		if err != nil {
			return err
		}
		setVersion(c, headerScopeVersion, list.Version)
		return c.JSON(http.StatusOK, list.Boards)
	})
}

func listFavourites(svc Services) echo.HandlerFunc {
	return handle(func(c echo.Context) error {
		list, err := svc.Views.Favourites(c.Request().Context(), userIDFrom(c))
		if err != nil {
			return err
		}
		setVersion(c, headerScopeVersion, list.Version)
		return c.JSON(http.StatusOK, list.Boards)
	})
}

func reorderBoards(svc Services, logger *log.Logger) echo.HandlerFunc {
	return observed("/api/v1/boards", logger, func(c echo.Context, m *orderingRequestMetrics) error {
		return reorder(c, m, svc, domain.ScopeBoards, svc.Boards.ReorderBoards)
	})
}

func reorderFavourites(svc Services, logger *log.Logger) echo.HandlerFunc {
	return observed("/api/v1/boards/favourites", logger, func(c echo.Context, m *orderingRequestMetrics) error {
		return reorder(c, m, svc, domain.ScopeFavourites, svc.Boards.ReorderFavourites)
	})
}

type reorderFunc func(ctx context.Context, userID string, req domain.ReorderRequest) (int64, error)

func reorder(c echo.Context, m *orderingRequestMetrics, svc Services, kind domain.ScopeKind, apply reorderFunc) error {
	var body reorderBody
	if err := decodeBody(c, &body); err != nil {
		return err
	}
	if body.Boards == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "boards is required")
	}
	m.SetItems(len(body.Boards))
	userID := userIDFrom(c)
	ids := refIDs(body.Boards)

	start := time.Now()
	version, err := apply(c.Request().Context(), userID, domain.ReorderRequest{IDs: ids, Version: body.Version})
	m.ObserveStore(time.Since(start))
	notify := func() {
		if svc.Cache != nil {
			svc.Cache.Evict(c.Request().Context(), userID, ids...)
		}
		if svc.Updates != nil {
			svc.Updates.Publish(c.Request().Context(), Update{UserID: userID, Scope: string(kind)})
		}
	}
	if err != nil {
		if partiallyWritten(err) {
			notify()
		}
		return err
	}
	notify()
	setVersion(c, headerScopeVersion, version)
	return c.JSON(http.StatusOK, "updated")
}

func getBoard(svc Services) echo.HandlerFunc {
	return handle(func(c echo.Context) error {
		detail, err := svc.Views.Get(c.Request().Context(), userIDFrom(c), c.Param("boardId"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, detail)
	})
}

func updateBoard(svc Services, logger *log.Logger) echo.HandlerFunc {
	return observed("/api/v1/boards/:boardId", logger, func(c echo.Context, m *orderingRequestMetrics) error {
		var upd domain.BoardUpdate
		if err := decodeBody(c, &upd); err != nil {
			return err
		}
		userID, boardID := userIDFrom(c), c.Param("boardId")
		start := time.Now()
		b, err := svc.Boards.Update(c.Request().Context(), userID, boardID, upd)
		m.ObserveStore(time.Since(start))
		scope := ""
		if upd.Favourite != nil {
			scope = string(domain.ScopeFavourites)
		}
		if err != nil {
			if partiallyWritten(err) {
				svc.changed(c, Update{UserID: userID, BoardID: boardID, Scope: scope}, true)
			}
			return err
		}
		m.SetItems(1)
		svc.changed(c, Update{UserID: userID, BoardID: boardID, Scope: scope}, true)
		return c.JSON(http.StatusOK, b)
	})
}

func deleteBoard(svc Services, logger *log.Logger) echo.HandlerFunc {
	return observed("/api/v1/boards/:boardId", logger, func(c echo.Context, m *orderingRequestMetrics) error {
		userID, boardID := userIDFrom(c), c.Param("boardId")
		start := time.Now()
		err := svc.Boards.Delete(c.Request().Context(), userID, boardID)
		m.ObserveStore(time.Since(start))
		if err != nil {
			if partiallyWritten(err) {
				svc.changed(c, Update{UserID: userID, BoardID: boardID, Scope: string(domain.ScopeBoards)}, true)
			}
			return err
		}
		svc.changed(c, Update{UserID: userID, BoardID: boardID, Scope: string(domain.ScopeBoards)}, true)
		return c.JSON(http.StatusOK, "deleted")
	})
}

func createSection(svc Services) echo.HandlerFunc {
	return handle(func(c echo.Context) error {
		userID, boardID := userIDFrom(c), c.Param("boardId")
		sec, err := svc.Sections.Create(c.Request().Context(), userID, boardID)
		if err != nil {
			return err
		}
		svc.changed(c, Update{UserID: userID, BoardID: boardID}, false)
		return c.JSON(http.StatusCreated, sec)
	})
}

func renameSection(svc Services) echo.HandlerFunc {
	return handle(func(c echo.Context) error {
		var body renameSectionBody
		if err := decodeBody(c, &body); err != nil {
			return err
		}
		userID, boardID := userIDFrom(c), c.Param("boardId")
		sec, err := svc.Sections.Rename(c.Request().Context(), userID, boardID, c.Param("sectionId"), body.Title)
		if err != nil {
			return err
		}
		svc.changed(c, Update{UserID: userID, BoardID: boardID}, false)
		return c.JSON(http.StatusOK, sec)
	})
}

func deleteSection(svc Services) echo.HandlerFunc {
	return handle(func(c echo.Context) error {
		userID, boardID := userIDFrom(c), c.Param("boardId")
		if err := svc.Sections.Delete(c.Request().Context(), userID, boardID, c.Param("sectionId")); err != nil {
			return err
		}
		svc.changed(c, Update{UserID: userID, BoardID: boardID}, false)
		return c.JSON(http.StatusOK, "deleted")
	})
}

func createTask(svc Services) echo.HandlerFunc {
	return handle(func(c echo.Context) error {
		var body createTaskBody
		if err := decodeBody(c, &body); err != nil {
			return err
		}
		userID, boardID := userIDFrom(c), c.Param("boardId")
		t, err := svc.Tasks.Create(c.Request().Context(), userID, boardID, body.SectionID)
		if err != nil {
			return err
		}
		svc.changed(c, Update{UserID: userID, BoardID: boardID, Scope: string(domain.ScopeTasks)}, false)
		return c.JSON(http.StatusCreated, t)
	})
}

func updateTask(svc Services) echo.HandlerFunc {
	return handle(func(c echo.Context) error {
		var upd domain.TaskUpdate
		if err := decodeBody(c, &upd); err != nil {
			return err
		}
		userID, boardID := userIDFrom(c), c.Param("boardId")
		t, err := svc.Tasks.Update(c.Request().Context(), userID, boardID, c.Param("taskId"), upd)
		if err != nil {
			return err
		}
		svc.changed(c, Update{UserID: userID, BoardID: boardID}, false)
		return c.JSON(http.StatusOK, t)
	})
}

func deleteTask(svc Services, logger *log.Logger) echo.HandlerFunc {
	return observed("/api/v1/boards/:boardId/tasks/:taskId", logger, func(c echo.Context, m *orderingRequestMetrics) error {
		userID, boardID := userIDFrom(c), c.Param("boardId")
		start := time.Now()
		err := svc.Tasks.Delete(c.Request().Context(), userID, boardID, c.Param("taskId"))
		m.ObserveStore(time.Since(start))
		if err != nil {
			if partiallyWritten(err) {
				svc.changed(c, Update{UserID: userID, BoardID: boardID, Scope: string(domain.ScopeTasks)}, false)
			}
			return err
		}
		svc.changed(c, Update{UserID: userID, BoardID: boardID, Scope: string(domain.ScopeTasks)}, false)
		return c.JSON(http.StatusOK, "deleted")
	})
}

func updateTaskPositions(svc Services, logger *log.Logger) echo.HandlerFunc {
	return observed("/api/v1/boards/:boardId/tasks/update-position", logger, func(c echo.Context, m *orderingRequestMetrics) error {
		var body positionBody
		if err := decodeBody(c, &body); err != nil {
			return err
		}
		m.SetItems(len(body.ResourceList) + len(body.DestinationList))
		upd := domain.PositionUpdate{
			ResourceList:         refIDs(body.ResourceList),
			DestinationList:      refIDs(body.DestinationList),
			ResourceSectionID:    body.ResourceSectionID,
			DestinationSectionID: body.DestinationSectionID,
			ResourceVersion:      body.ResourceVersion,
			DestinationVersion:   body.DestinationVersion,
		}
		userID, boardID := userIDFrom(c), c.Param("boardId")

		start := time.Now()
		versions, err := svc.Tasks.UpdatePositions(c.Request().Context(), userID, boardID, upd)
		m.ObserveStore(time.Since(start))
		if err != nil {
			if partiallyWritten(err) {
				svc.changed(c, Update{UserID: userID, BoardID: boardID, Scope: string(domain.ScopeTasks)}, false)
			}
			return err
		}
		setVersion(c, headerScopeVersion, versions[domain.TasksScope(boardID, upd.DestinationSectionID)])
		if upd.CrossSection() && upd.ResourceSectionID != "" {
			setVersion(c, headerSourceScopeVersion, versions[domain.TasksScope(boardID, upd.ResourceSectionID)])
		}
		svc.changed(c, Update{UserID: userID, BoardID: boardID, Scope: string(domain.ScopeTasks)}, false)
		return c.JSON(http.StatusOK, "updated")
	})
}

func searchTasks(svc Services) echo.HandlerFunc {
	return handle(func(c echo.Context) error {
		q, err := parseTaskQuery(c)
		if err != nil {
			return err
		}
		page, err := svc.Tasks.Search(c.Request().Context(), userIDFrom(c), c.Param("boardId"), q)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, page)
	})
}

func parseTaskQuery(c echo.Context) (domain.TaskQuery, error) {
	q := domain.TaskQuery{
		Search:   strings.TrimSpace(c.QueryParam("search")),
		Priority: domain.Priority(c.QueryParam("priority")),
		Status:   domain.Status(c.QueryParam("status")),
		Sort:     c.QueryParam("sort"),
	}
	if tag, ok := strings.CutPrefix(c.QueryParam("filter"), "tag:"); ok {
		q.Tag = tag
	}
	for name, dst := range map[string]*int{"page": &q.Page, "limit": &q.Limit} {
		raw := strings.TrimSpace(c.QueryParam(name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return domain.TaskQuery{}, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
		}
		*dst = n
	}
	return q, nil
}
