package httpapi

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"policyrag/internal/domain"
)

type AnswerRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

type AnswerResponse struct {
	domain.Answer
	SessionID string `json:"session_id"`
}

type IngestRequest struct {
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
	SourcePath string `json:"source_path"`
}

type IngestResponse struct {
	DocumentID    string           `json:"document_id"`
	AddedChunkIDs []domain.EntryID `json:"added_chunk_ids"`
}

type RemoveRequest struct {
	DocumentIDs []string `json:"document_ids"`
}

type RemoveResponse struct {
	RemovedEntries int `json:"removed_entries"`
}

type ClearRequest struct {
	SessionID string `json:"session_id"`
}

type HistoryResponse struct {
	SessionID string                    `json:"session_id"`
	Turns     []domain.ConversationTurn `json:"turns"`
}

type HealthResponse struct {
	Status          string `json:"status"`
	Entries         int    `json:"entries"`
	Model           string `json:"model"`
	GenerationModel string `json:"generation_model"`
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return nil
}

func (s *Server) answer(c *fiber.Ctx) error {
	var req AnswerRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Question) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "question is required")
	}

	answer, err := s.service.Answer(c.UserContext(), domain.Query{
		Text:      req.Question,
		SessionID: req.SessionID,
	})
	if err != nil {
		return err
	}
	return c.JSON(AnswerResponse{Answer: answer, SessionID: req.SessionID})
}

func (s *Server) ingest(c *fiber.Ctx) error {
	var req IngestRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Text) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "text is required")
	}
	if req.DocumentID == "" {
		req.DocumentID = uuid.NewString()
	}

	res, err := s.service.Ingest(c.UserContext(), []domain.Document{{
		ID:         req.DocumentID,
		SourcePath: req.SourcePath,
		Text:       req.Text,
	}})
	if err != nil {
		return err
	}

	ids := res.PerDocument[req.DocumentID]
	if ids == nil {
		ids = []domain.EntryID{}
	}
	return c.Status(fiber.StatusCreated).JSON(IngestResponse{
		DocumentID:    req.DocumentID,
		AddedChunkIDs: ids,
	})
}

func (s *Server) removeDocuments(c *fiber.Ctx) error {
	var req RemoveRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if len(req.DocumentIDs) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "document_ids is required")
	}

	removed, err := s.service.Remove(req.DocumentIDs...)
	if err != nil {
		return err
	}
	return c.JSON(RemoveResponse{RemovedEntries: removed})
}

func (s *Server) clear(c *fiber.Ctx) error {
	var req ClearRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := s.service.Clear(c.UserContext(), req.SessionID); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) history(c *fiber.Ctx) error {
	sessionID := c.Params("session_id")
	turns, err := s.service.History(c.UserContext(), sessionID)
	if err != nil {
		return err
	}
	if turns == nil {
		turns = []domain.ConversationTurn{}
	}
	return c.JSON(HistoryResponse{SessionID: sessionID, Turns: turns})
}

func (s *Server) health(c *fiber.Ctx) error {
	stats := s.service.Stats()
	return c.JSON(HealthResponse{
		Status:          "ok",
		Entries:         stats.Entries,
		Model:           stats.Model,
		GenerationModel: s.service.GeneratorModel(),
	})
}
