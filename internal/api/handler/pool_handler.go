package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cuongbtq/scrape-dispatcher/internal/api/dto"
	"github.com/cuongbtq/scrape-dispatcher/internal/dispatcher/domain"
	"github.com/gin-gonic/gin"
)

// GetQueue handles GET /api/v1/queue
func (h *JobHandler) GetQueue(c *gin.Context) {
	c.JSON(http.StatusOK, h.dispatcher.PoolStatus())
}

// GetSession handles GET /api/v1/sessions/:slot
func (h *JobHandler) GetSession(c *gin.Context) {
	slot, ok := h.slotParam(c)
	if !ok {
		return
	}

	detail, err := h.dispatcher.SlotDetail(slot)
	if err != nil {
		if errors.Is(err, domain.ErrSlotOutOfRange) {
			h.invalidSlot(c)
			return
		}
		h.logger.Error("Failed to get slot detail", slog.Int("slot", slot), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get session details",
		})
		return
	}

	c.JSON(http.StatusOK, detail)
}

// RotateSession handles POST /api/v1/sessions/:slot/rotate
func (h *JobHandler) RotateSession(c *gin.Context) {
	slot, ok := h.slotParam(c)
	if !ok {
		return
	}

	h.logger.Info("RotateSession called", slog.Int("slot", slot))

	// a client hanging up mid-rotation must not leave the slot without a session
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.rotateTimeout)
	defer cancel()

	result, err := h.dispatcher.ForceRotate(ctx, slot)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSlotOutOfRange):
			h.invalidSlot(c)
		case errors.Is(err, domain.ErrSlotBusy):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Cannot rotate session while it is processing a job",
			})
		default:
			h.logger.Error("Failed to rotate session", slog.Int("slot", slot), slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, dto.RotateResponse{
				Success:      false,
				Message:      fmt.Sprintf("Session %d could not be recreated", slot),
				OldSessionID: result.OldSessionID,
				NewSessionID: result.NewSessionID,
				Error:        err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, dto.RotateResponse{
		Success:      true,
		Message:      fmt.Sprintf("Session %d rotated successfully", slot),
		OldSessionID: result.OldSessionID,
		NewSessionID: result.NewSessionID,
	})
}

func (h *JobHandler) slotParam(c *gin.Context) (int, bool) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil {
		h.invalidSlot(c)
		return 0, false
	}
	return slot, true
}

func (h *JobHandler) invalidSlot(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": fmt.Sprintf("Invalid session id. Must be between 0 and %d", h.dispatcher.PoolSize()-1),
	})
}
