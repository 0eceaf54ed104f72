package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/septivank/thinq-energy-sync/internal/db"
	"github.com/septivank/thinq-energy-sync/internal/mq"
	"github.com/septivank/thinq-energy-sync/internal/repository"
	"github.com/septivank/thinq-energy-sync/internal/thinq"
	"go.uber.org/zap"
)

// Server is the coordinator HTTP facade: device listing and registration,
// plus enqueueing sync requests for the worker.
type Server struct {
	engine    *gin.Engine
	repo      *repository.Repository
	client    *thinq.Client
	publisher *mq.Publisher
	logger    *zap.Logger
}

// NewServer creates the coordinator server and registers its routes
func NewServer(repo *repository.Repository, client *thinq.Client, publisher *mq.Publisher, logger *zap.Logger) *Server {
	s := &Server{
		engine:    gin.Default(),
		repo:      repo,
		client:    client,
		publisher: publisher,
		logger:    logger,
	}

	s.engine.GET("/devices", s.listDevices)
	devices := s.engine.Group("/devices")
	{
		devices.POST("/register", s.registerDevices)
		devices.POST("/sync_energy", s.syncEnergy)
	}

	return s
}

// DeviceResponse is the JSON shape for one device
type DeviceResponse struct {
	ID         string `json:"id"`
	DeviceType string `json:"device_type"`
	ModelName  string `json:"model_name"`
	Alias      string `json:"alias"`
}

func toDeviceResponse(device db.Device) DeviceResponse {
	return DeviceResponse{
		ID:         device.ID,
		DeviceType: device.DeviceType,
		ModelName:  device.ModelName,
		Alias:      device.Alias,
	}
}

// listDevices returns the account's devices split into registered and
// unregistered sets.
func (s *Server) listDevices(c *gin.Context) {
	registered, err := s.repo.ListDevices(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list registered devices", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list devices"})
		return
	}

	registeredIDs := make(map[string]bool, len(registered))
	for _, device := range registered {
		registeredIDs[device.ID] = true
	}

	allDevices, err := s.client.GetDevices(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list account devices", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to reach vendor api"})
		return
	}

	registeredOut := make([]DeviceResponse, 0)
	unregisteredOut := make([]DeviceResponse, 0)
	for _, device := range allDevices {
		if registeredIDs[device.ID] {
			registeredOut = append(registeredOut, toDeviceResponse(device))
		} else {
			unregisteredOut = append(unregisteredOut, toDeviceResponse(device))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"registered":   registeredOut,
		"unregistered": unregisteredOut,
	})
}

// RegisterRequest selects account devices to register
type RegisterRequest struct {
	DeviceIDs []string `json:"device_ids" binding:"required"`
}

func (s *Server) registerDevices(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	allDevices, err := s.client.GetDevices(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list account devices", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to reach vendor api"})
		return
	}

	byID := make(map[string]db.Device, len(allDevices))
	for _, device := range allDevices {
		byID[device.ID] = device
	}

	var toRegister []db.Device
	notFound := make([]string, 0)
	for _, deviceID := range req.DeviceIDs {
		if device, ok := byID[deviceID]; ok {
			toRegister = append(toRegister, device)
		} else {
			notFound = append(notFound, deviceID)
		}
	}

	if err := s.repo.BulkInsertDevices(c.Request.Context(), toRegister); err != nil {
		s.logger.Error("failed to register devices", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register devices"})
		return
	}

	registeredIDs := make([]string, 0, len(toRegister))
	for _, device := range toRegister {
		registeredIDs = append(registeredIDs, device.ID)
	}

	c.JSON(http.StatusOK, gin.H{
		"registered": registeredIDs,
		"not_found":  notFound,
	})
}

// SyncRequest asks the worker fleet to sync one device
type SyncRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
}

func (s *Server) syncEnergy(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.publisher.PublishSyncRequest(c.Request.Context(), req.DeviceID); err != nil {
		s.logger.Error("failed to publish sync request",
			zap.Error(err),
			zap.String("device_id", req.DeviceID),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue sync request"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "published",
		"device_id": req.DeviceID,
	})
}
