package main

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mallku/internal/bus"
	"mallku/internal/dialogue"
	"mallku/internal/emergence"
	"mallku/internal/patternlibrary"
	ws "mallku/internal/websocket"
)

// emergenceRegistry holds one emergence detection State per live dialogue,
// mirroring dialogue.Orchestrator's own per-dialogue map-of-locks shape
// (module H's state is scoped to a single dialogue's interaction history,
// per DESIGN.md's Open Question decision on cross-dialogue emergence).
type emergenceRegistry struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*emergence.State
	hub  *ws.Hub
	bus  bus.Bus
}

func newEmergenceRegistry(hub *ws.Hub, eventBus bus.Bus) *emergenceRegistry {
	return &emergenceRegistry{byID: make(map[uuid.UUID]*emergence.State), hub: hub, bus: eventBus}
}

func (r *emergenceRegistry) stateFor(dialogueID uuid.UUID) *emergence.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[dialogueID]
	if !ok {
		s = emergence.NewState(dialogueID)
		r.byID[dialogueID] = s
	}
	return s
}

func (r *emergenceRegistry) forget(dialogueID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, dialogueID)
}

// onMessage records msg against dialogueID's emergence state and runs the
// five detectors, broadcasting whatever fires.
func (r *emergenceRegistry) onMessage(ctx context.Context, library *patternlibrary.Library, dialogueID uuid.UUID, msg *dialogue.Message, now time.Time) {
	state := r.stateFor(dialogueID)
	state.RecordMessage(emergence.Message{
		PatternIDs:             msg.DetectedPatterns,
		ConsciousnessSignature: msg.ConsciousnessSignature,
		Timestamp:              msg.Timestamp,
	})
	for _, e := range state.DetectAll(ctx, library, now, 1.0) {
		if r.hub != nil {
			r.hub.BroadcastEmergenceDetected(dialogueID.String(), string(e.Kind), string(e.Phase), e.Confidence)
		}
		if r.bus != nil {
			_ = r.bus.Publish(bus.TopicEmergenceDetected, map[string]interface{}{
				"dialogue_id": dialogueID.String(),
				"kind":        string(e.Kind),
				"phase":       string(e.Phase),
				"confidence":  e.Confidence,
			})
		}
	}
}

// patternDetectionHook tokenizes a message's content and asks the pattern
// library for dialogue-taxonomy patterns sharing any of those tokens as
// tags, mirroring wisdom.Engine's own tokenize/matchKeywords idiom for
// turning free text into a keyword set.
func patternDetectionHook(library *patternlibrary.Library) func(ctx context.Context, content string) []uuid.UUID {
	return func(ctx context.Context, content string) []uuid.UUID {
		tokens := strings.Fields(strings.ToLower(content))
		if len(tokens) == 0 {
			return nil
		}
		matches := library.Find(patternlibrary.Query{
			Taxonomy: patternlibrary.TaxonomyDialogue,
			Tags:     tokens,
			Limit:    5,
		})
		ids := make([]uuid.UUID, len(matches))
		for i, p := range matches {
			ids[i] = p.PatternID
		}
		return ids
	}
}

// dialogueCreateRequest/dialogueMessageRequest are the wire shapes for the
// dialogue HTTP surface; participants are addressed by caller-supplied IDs
// since the orchestrator itself holds no notion of user accounts.
type dialogueCreateRequest struct {
	Topic                string      `json:"topic"`
	Policy               string      `json:"policy"`
	ShuffleSpeakingOrder bool        `json:"shuffle_speaking_order"`
	ParticipantIDs       []uuid.UUID `json:"participant_ids"`
	HumanParticipantIDs  []uuid.UUID `json:"human_participant_ids"`
}

type dialogueMessageRequest struct {
	SpeakerID uuid.UUID `json:"speaker_id"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
}

type dialogueSignalsRequest struct {
	ExtractionRisk float64 `json:"extraction_risk"`
	Coherence      float64 `json:"coherence"`
}

// registerDialogueRoutes mounts the Dialogue Orchestrator (module I) and
// Emergence Detector (module H) surface under an already-authenticated
// route group.
func registerDialogueRoutes(group *gin.RouterGroup, st *stack) {
	group.POST("/dialogues", func(c *gin.Context) {
		var req dialogueCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed dialogue create request"})
			return
		}
		humans := make(map[uuid.UUID]bool, len(req.HumanParticipantIDs))
		for _, id := range req.HumanParticipantIDs {
			humans[id] = true
		}
		d, err := st.dialogues.Create(c.Request.Context(), dialogue.Config{
			Topic:                req.Topic,
			Policy:               dialogue.Policy(req.Policy),
			ShuffleSpeakingOrder: req.ShuffleSpeakingOrder,
		}, req.ParticipantIDs, humans, nil, time.Now())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"dialogue_id": d.ID, "phase": d.Phase})
	})

	group.POST("/dialogues/:id/messages", func(c *gin.Context) {
		dialogueID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed dialogue id"})
			return
		}
		var req dialogueMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed message"})
			return
		}
		now := time.Now()
		msg := &dialogue.Message{SpeakerID: req.SpeakerID, Kind: dialogue.Kind(req.Kind), Content: req.Content}
		if err := st.dialogues.AddMessage(c.Request.Context(), dialogueID, msg, now); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		st.emergence.onMessage(c.Request.Context(), st.library, dialogueID, msg, now)
		c.JSON(http.StatusAccepted, gin.H{"message_id": msg.ID, "consciousness_signature": msg.ConsciousnessSignature})
	})

	group.POST("/dialogues/:id/next-speaker", func(c *gin.Context) {
		dialogueID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed dialogue id"})
			return
		}
		var req dialogueSignalsRequest
		_ = c.ShouldBindJSON(&req)
		speaker, silence, err := st.dialogues.NextSpeaker(c.Request.Context(), dialogueID, dialogue.ExternalSignals{
			ExtractionRisk: req.ExtractionRisk,
			Coherence:      req.Coherence,
		}, time.Now())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"speaker_id": speaker, "silence": silence})
	})

	group.POST("/dialogues/:id/advance", func(c *gin.Context) {
		dialogueID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed dialogue id"})
			return
		}
		phase, err := st.dialogues.AdvancePhase(dialogueID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"phase": phase})
	})

	group.POST("/dialogues/:id/conclude", func(c *gin.Context) {
		dialogueID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed dialogue id"})
			return
		}
		summary, err := st.dialogues.Conclude(c.Request.Context(), dialogueID, time.Now())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		st.emergence.forget(dialogueID)
		c.JSON(http.StatusOK, summary)
	})
}
