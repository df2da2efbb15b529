package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mossy-p/jam-signaling/internal/models"
	"github.com/mossy-p/jam-signaling/internal/store"
)

// parseID reads the :id path parameter. It writes the error response itself.
func parseID(c *gin.Context) (int32, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return int32(id), true
}

func respondStoreError(c *gin.Context, kind string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": kind + " not found"})
		return
	}
	logrus.WithError(err).WithField("kind", kind).Error("Store operation failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Storage unavailable"})
}

// GetMusician gets a musician by id (public)
func GetMusician(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		m, err := s.GetMusician(c.Request.Context(), id)
		if err != nil {
			respondStoreError(c, "Musician", err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// PutMusician creates or replaces a musician (requires authentication)
func PutMusician(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var req models.PutMusicianRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		m := &models.Musician{
			ID:        id,
			Name:      req.Name,
			UpdatedBy: c.GetString("user_id"),
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.PutMusician(c.Request.Context(), m); err != nil {
			respondStoreError(c, "Musician", err)
			return
		}
		logrus.WithFields(logrus.Fields{"musician": id, "user": m.UpdatedBy}).Info("Musician stored")
		c.JSON(http.StatusOK, m)
	}
}

// GetBand gets a band by id (public)
func GetBand(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		b, err := s.GetBand(c.Request.Context(), id)
		if err != nil {
			respondStoreError(c, "Band", err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

// PutBand creates or replaces a band (requires authentication). Every member
// must already exist as a musician.
func PutBand(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, req, members, ok := bindGroup(c, s)
		if !ok {
			return
		}
		b := &models.Band{
			ID:        id,
			Name:      req.Name,
			Members:   members,
			UpdatedBy: c.GetString("user_id"),
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.PutBand(c.Request.Context(), b); err != nil {
			respondStoreError(c, "Band", err)
			return
		}
		logrus.WithFields(logrus.Fields{"band": id, "user": b.UpdatedBy}).Info("Band stored")
		c.JSON(http.StatusOK, b)
	}
}

// GetSession gets a stored session record by id (public)
func GetSession(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		rec, err := s.GetSession(c.Request.Context(), id)
		if err != nil {
			respondStoreError(c, "Session", err)
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

// PutSession creates or replaces a session record (requires authentication)
func PutSession(s store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, req, members, ok := bindGroup(c, s)
		if !ok {
			return
		}
		rec := &models.Session{
			ID:        id,
			Name:      req.Name,
			Members:   members,
			UpdatedBy: c.GetString("user_id"),
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.PutSession(c.Request.Context(), rec); err != nil {
			respondStoreError(c, "Session", err)
			return
		}
		logrus.WithFields(logrus.Fields{"session": id, "user": rec.UpdatedBy}).Info("Session stored")
		c.JSON(http.StatusOK, rec)
	}
}

// bindGroup parses the id and body of a band or session PUT and resolves the
// member ids to musicians.
func bindGroup(c *gin.Context, s store.Store) (int32, models.PutGroupRequest, []models.Musician, bool) {
	var req models.PutGroupRequest
	id, ok := parseID(c)
	if !ok {
		return 0, req, nil, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, req, nil, false
	}

	members := make([]models.Musician, 0, len(req.Members))
	seen := make(map[int32]bool, len(req.Members))
	for _, mid := range req.Members {
		if seen[mid] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Duplicate member " + strconv.Itoa(int(mid))})
			return 0, req, nil, false
		}
		seen[mid] = true

		m, err := s.GetMusician(c.Request.Context(), mid)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown member " + strconv.Itoa(int(mid))})
			return 0, req, nil, false
		}
		if err != nil {
			respondStoreError(c, "Musician", err)
			return 0, req, nil, false
		}
		members = append(members, *m)
	}
	return id, req, members, true
}
