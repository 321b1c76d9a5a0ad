package providers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/realtime/src/types"
)

type connectRequest struct {
	Endpoint string   `json:"endpoint"`
	ID       string   `json:"id"`
	Channels []string `json:"channels"`
}

type sendRequest struct {
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Immediate bool            `json:"immediate"`
}

type subscribeRequest struct {
	Channel string `json:"channel"`
}

// RegisterRoutes registers the sync status and control routes.
func (p *SyncProvider) RegisterRoutes(group fiber.Router) {
	group.Get("/sync/info", p.handleInfo)
	group.Get("/sync/metrics", p.handleMetrics)
	group.Get("/sync/connections", p.handleConnections)
	group.Post("/sync/connections", p.handleConnect)
	group.Get("/sync/connections/:id", p.handleConnection)
	group.Delete("/sync/connections/:id", p.handleDisconnect)
	group.Post("/sync/connections/:id/send", p.handleSend)
	group.Post("/sync/connections/:id/channels", p.handleSubscribe)
	group.Delete("/sync/connections/:id/channels/:channel", p.handleUnsubscribe)
}

func errorJSON(c fiber.Ctx, status int, code string, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": err.Error()})
}

func (p *SyncProvider) handleInfo(c fiber.Ctx) error {
	snap := p.service.GetMetrics()
	return c.JSON(fiber.Map{
		"sync":        true,
		"base_url":    p.cfg.Sync.BaseURL,
		"instance_id": p.instanceID,
		"connections": len(snap.Connections),
		"active":      snap.ActiveConnections,
		"bridge":      p.bridge != nil && p.bridge.Available(),
	})
}

func (p *SyncProvider) handleMetrics(c fiber.Ctx) error {
	return c.JSON(p.service.GetMetrics())
}

func (p *SyncProvider) handleConnections(c fiber.Ctx) error {
	return c.JSON(p.service.Connections())
}

func (p *SyncProvider) handleConnection(c fiber.Ctx) error {
	info, err := p.service.GetConnectionInfo(c.Params("id"))
	if err != nil {
		return errorJSON(c, fiber.StatusNotFound, "not_found", err)
	}
	return c.JSON(info)
}

func (p *SyncProvider) handleConnect(c fiber.Ctx) error {
	var req connectRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", err)
	}
	conn, err := p.service.Connect(req.Endpoint, req.ID)
	if err != nil {
		if errors.Is(err, types.ErrEmptyEndpoint) {
			return errorJSON(c, fiber.StatusBadRequest, "bad_request", err)
		}
		return errorJSON(c, fiber.StatusBadGateway, "connect_failed", err)
	}
	for _, ch := range req.Channels {
		if err := p.service.Subscribe(conn.ID(), ch); err != nil {
			return errorJSON(c, fiber.StatusInternalServerError, "subscribe_failed", err)
		}
	}
	return c.Status(fiber.StatusAccepted).JSON(conn.Info())
}

func (p *SyncProvider) handleDisconnect(c fiber.Ctx) error {
	if err := p.service.Disconnect(c.Params("id")); err != nil {
		return errorJSON(c, fiber.StatusNotFound, "not_found", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (p *SyncProvider) handleSend(c fiber.Ctx) error {
	var req sendRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", err)
	}
	if req.Kind == "" {
		return errorJSON(c, fiber.StatusBadRequest, "bad_request", types.ErrMissingKind)
	}
	env := types.Envelope{Kind: req.Kind, Payload: req.Payload}
	id := c.Params("id")
	if !p.service.SendEnvelope(id, env, req.Immediate) {
		return errorJSON(c, fiber.StatusConflict, "not_connected", types.ErrNotConnected)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"queued": !req.Immediate})
}

func (p *SyncProvider) handleSubscribe(c fiber.Ctx) error {
	var req subscribeRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil || req.Channel == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "channel is required"})
	}
	if err := p.service.Subscribe(c.Params("id"), req.Channel); err != nil {
		return errorJSON(c, fiber.StatusNotFound, "not_found", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (p *SyncProvider) handleUnsubscribe(c fiber.Ctx) error {
	if err := p.service.Unsubscribe(c.Params("id"), c.Params("channel")); err != nil {
		return errorJSON(c, fiber.StatusNotFound, "not_found", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
