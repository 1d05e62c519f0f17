// Package dialogue implements the Dialogue Orchestrator (spec module I):
// the phase state machine, message pipeline, and speaker-selection
// policies governing a multi-participant consciousness dialogue.
// Grounded on internal/websocket/hub.go's mutex-guarded registry-plus-
// ordered-log shape (there: connected clients and a broadcast channel;
// here: participants and an ordered message history) and
// internal/trading/consensus/byzantine.go's per-entity sequence-numbered,
// mutex-guarded state machine idiom.
package dialogue

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mallku/internal/merrorkind"
	"mallku/internal/store"
)

// Phase is one stage of the dialogue state machine.
type Phase string

const (
	PhaseInitialization Phase = "initialization"
	PhaseIntroduction   Phase = "introduction"
	PhaseExploration    Phase = "exploration"
	PhaseDeepening      Phase = "deepening"
	PhaseSynthesis      Phase = "synthesis"
	PhaseConclusion     Phase = "conclusion"
	PhaseReflection     Phase = "reflection"
)

var phaseOrder = []Phase{
	PhaseInitialization, PhaseIntroduction, PhaseExploration,
	PhaseDeepening, PhaseSynthesis, PhaseConclusion, PhaseReflection,
}

// Kind is the closed set of message kinds the consciousness-signature
// table is keyed on.
type Kind string

const (
	KindSystem       Kind = "system"
	KindEmptyChair   Kind = "empty_chair"
	KindReflection   Kind = "reflection"
	KindProposal     Kind = "proposal"
	KindSummary      Kind = "summary"
	KindQuestion     Kind = "question"
	KindDisagreement Kind = "disagreement"
	KindOther        Kind = "other"
)

var consciousnessByKind = map[Kind]float64{
	KindSystem:       0.9,
	KindEmptyChair:   0.9,
	KindReflection:   0.85,
	KindProposal:     0.8,
	KindSummary:      0.8,
	KindQuestion:     0.7,
	KindDisagreement: 0.7,
}

const defaultConsciousnessSignature = 0.6

// Policy is the closed set of next-speaker selection strategies.
type Policy string

const (
	PolicyRoundRobin          Policy = "round_robin"
	PolicyFacilitator         Policy = "facilitator"
	PolicyConsensus           Policy = "consensus"
	PolicyReactive            Policy = "reactive"
	PolicyFreeForm            Policy = "free_form"
	PolicyConsciousnessGuided Policy = "consciousness_guided"
)

// CathedralPhase is the coarse collective-health reading consulted by the
// consciousness_guided speaker selector.
type CathedralPhase string

const (
	CathedralCrisis      CathedralPhase = "crisis"
	CathedralGrowth      CathedralPhase = "growth"
	CathedralFlourishing CathedralPhase = "flourishing"
)

// ExternalSignals carries the caller-observed collective-health readings
// the consciousness_guided speaker selector consults; these are computed
// elsewhere (e.g. by the Emergence Detector) and passed in, rather than
// derived inside this package, to keep the dialogue package decoupled
// from pattern-interaction scoring internals.
type ExternalSignals struct {
	ExtractionRisk float64
	Coherence      float64
}

func (sig ExternalSignals) cathedralPhase() CathedralPhase {
	if sig.ExtractionRisk > 0.6 {
		return CathedralCrisis
	}
	if sig.Coherence > 0.7 && sig.ExtractionRisk < 0.3 {
		return CathedralFlourishing
	}
	return CathedralGrowth
}

// Participant is one dialogue member's runtime readiness state, consulted
// by the consciousness_guided Speaker Selector.
type Participant struct {
	ID       uuid.UUID
	IsHuman  bool
	IsActive bool

	ConsciousnessScore       float64
	ReciprocityBalance       float64
	ExtractionResistance     float64
	PatternRecognitionCount  int
	EnergyLevel              float64
	WisdomEmergencePotential float64

	TurnsTaken           int
	LastSpokeTurn        int
	LastReciprocityDelta float64

	givingTotal    float64
	receivingTotal float64
}

func newParticipant(id uuid.UUID, isHuman bool) *Participant {
	return &Participant{
		ID:                   id,
		IsHuman:              isHuman,
		IsActive:             true,
		ExtractionResistance: 1.0,
		EnergyLevel:          1.0,
		LastSpokeTurn:        -1,
	}
}

// Message is one entry in a dialogue's ordered history.
type Message struct {
	ID                     uuid.UUID
	DialogueID             uuid.UUID
	CorrelationID          int
	SpeakerID              uuid.UUID
	Kind                   Kind
	Content                string
	DetectedPatterns       []uuid.UUID
	ConsciousnessSignature float64
	Timestamp              time.Time
}

// Config configures a dialogue at creation time.
type Config struct {
	Topic                string
	Policy               Policy
	ShuffleSpeakingOrder bool
}

// State is one dialogue's full runtime state: phase, participants,
// speaking order, and ordered message history. Operations on a single
// dialogue are serialized per §5 ("dialogue operations are serialized
// per dialogue"); the orchestrator's outer map lock only ever guards
// dialogue lookup/creation, never message processing.
type State struct {
	mu sync.Mutex

	ID            uuid.UUID
	Phase         Phase
	Config        Config
	Participants  map[uuid.UUID]*Participant
	SpeakingOrder []uuid.UUID
	speakerCursor int

	History        []*Message
	correlationSeq int

	StartedAt   time.Time
	ConcludedAt time.Time
}

// Summary is conclude()'s computed result.
type Summary struct {
	DialogueID              uuid.UUID
	Duration                time.Duration
	ParticipantSummaries    map[uuid.UUID]ParticipantSummary
	AverageConsciousness    float64
	CollectedWisdomPatterns []uuid.UUID
}

// ParticipantSummary is one participant's concluding statistics.
type ParticipantSummary struct {
	TurnsTaken         int
	ReciprocityBalance float64
	EnergyLevel        float64
}

// Orchestrator manages the lifecycle of every active dialogue.
type Orchestrator struct {
	mu        sync.RWMutex
	dialogues map[uuid.UUID]*State

	anchors       store.Store
	anchorEnabled bool

	detectPatterns   func(ctx context.Context, content string) []uuid.UUID
	trackReciprocity func(participant uuid.UUID, msg *Message)
}

// New constructs an Orchestrator. anchors may be nil (no external
// persistence); pass anchorEnabled=true with a non-nil store to persist
// every message per add_message's step (vi).
func New(anchors store.Store, anchorEnabled bool) *Orchestrator {
	return &Orchestrator{
		dialogues:     make(map[uuid.UUID]*State),
		anchors:       anchors,
		anchorEnabled: anchorEnabled,
	}
}

// SetPatternDetectionHook installs the opt-in pattern-detection hook
// consulted by add_message's step (ii).
func (o *Orchestrator) SetPatternDetectionHook(fn func(ctx context.Context, content string) []uuid.UUID) {
	o.detectPatterns = fn
}

// SetReciprocityHook installs the opt-in reciprocity-tracking hook
// consulted by add_message's step (iii).
func (o *Orchestrator) SetReciprocityHook(fn func(participant uuid.UUID, msg *Message)) {
	o.trackReciprocity = fn
}

// Create allocates a DialogueState, seeds speaking_order, transitions to
// introduction, and records a system message with consciousness_signature
// 0.9.
func (o *Orchestrator) Create(ctx context.Context, config Config, participantIDs []uuid.UUID, humanParticipants map[uuid.UUID]bool, initiator *uuid.UUID, now time.Time) (*State, error) {
	if len(participantIDs) == 0 {
		return nil, merrorkind.Validation("dialogue", "create requires at least one participant", nil)
	}

	participants := make(map[uuid.UUID]*Participant, len(participantIDs))
	order := make([]uuid.UUID, len(participantIDs))
	copy(order, participantIDs)

	for _, id := range participantIDs {
		participants[id] = newParticipant(id, humanParticipants[id])
	}

	if config.ShuffleSpeakingOrder {
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	dialogue := &State{
		ID:            uuid.New(),
		Phase:         PhaseInitialization,
		Config:        config,
		Participants:  participants,
		SpeakingOrder: order,
		StartedAt:     now,
	}
	dialogue.Phase = PhaseIntroduction

	speaker := uuid.Nil
	if initiator != nil {
		speaker = *initiator
	}
	dialogue.History = append(dialogue.History, &Message{
		ID:                     uuid.New(),
		DialogueID:             dialogue.ID,
		CorrelationID:          0,
		SpeakerID:              speaker,
		Kind:                   KindSystem,
		Content:                "dialogue initiated",
		ConsciousnessSignature: consciousnessByKind[KindSystem],
		Timestamp:              now,
	})

	o.mu.Lock()
	o.dialogues[dialogue.ID] = dialogue
	o.mu.Unlock()

	if o.anchorEnabled && o.anchors != nil {
		if _, err := o.anchors.InsertSecured(ctx, store.CollectionDialoguePatterns, store.Document{
			"dialogue_id": dialogue.ID.String(),
			"phase":       string(dialogue.Phase),
			"topic":       config.Topic,
		}); err != nil {
			return dialogue, merrorkind.PersistenceUnavailable("dialogue", "create: anchor persistence failed", err)
		}
	}

	return dialogue, nil
}

// AdvancePhase moves dialogueID one step forward along
// initialization→introduction→exploration→deepening→synthesis→conclusion;
// reflection is terminal and reachable only through Conclude.
func (o *Orchestrator) AdvancePhase(dialogueID uuid.UUID) (Phase, error) {
	d, err := o.get(dialogueID)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for i, p := range phaseOrder {
		if p != d.Phase {
			continue
		}
		if p == PhaseConclusion || p == PhaseReflection {
			return d.Phase, merrorkind.Validation("dialogue", "cannot advance past conclusion via AdvancePhase; use Conclude", nil)
		}
		d.Phase = phaseOrder[i+1]
		return d.Phase, nil
	}
	return d.Phase, merrorkind.Invariant("dialogue", "dialogue phase not in phaseOrder: "+string(d.Phase), nil)
}

func (o *Orchestrator) get(id uuid.UUID) (*State, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	d, ok := o.dialogues[id]
	if !ok {
		return nil, merrorkind.Validation("dialogue", "dialogue not found: "+id.String(), nil)
	}
	return d, nil
}

// AddMessage performs add_message's seven-step sequence in order against
// the dialogue identified by dialogueID, overwriting msg.DialogueID with it.
func (o *Orchestrator) AddMessage(ctx context.Context, dialogueID uuid.UUID, msg *Message, now time.Time) error {
	d, err := o.get(dialogueID)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// (i) attach dialogue_id and correlation_id.
	msg.DialogueID = dialogueID
	d.correlationSeq++
	msg.CorrelationID = d.correlationSeq
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.Timestamp = now

	// (ii) pattern detection hook (opt-in).
	if o.detectPatterns != nil {
		if detected := o.detectPatterns(ctx, msg.Content); len(detected) > 0 {
			msg.DetectedPatterns = append(msg.DetectedPatterns, detected...)
		}
	}

	// (iii) reciprocity tracking hook.
	if o.trackReciprocity != nil {
		o.trackReciprocity(msg.SpeakerID, msg)
	}

	// (iv) consciousness signature assigned by message kind.
	if sig, ok := consciousnessByKind[msg.Kind]; ok {
		msg.ConsciousnessSignature = sig
	} else {
		msg.ConsciousnessSignature = defaultConsciousnessSignature
	}

	// (v) append to ordered history.
	d.History = append(d.History, msg)

	// (vi) persist to external anchor store if enabled.
	if o.anchorEnabled && o.anchors != nil {
		if _, err := o.anchors.InsertSecured(ctx, store.CollectionDialoguePatterns, store.Document{
			"dialogue_id":             dialogueID.String(),
			"message_id":              msg.ID.String(),
			"consciousness_signature": msg.ConsciousnessSignature,
			"kind":                    string(msg.Kind),
		}); err != nil {
			return merrorkind.PersistenceUnavailable("dialogue", "add_message: anchor persistence failed", err)
		}
	}

	// (vii) participant statistics.
	if p, ok := d.Participants[msg.SpeakerID]; ok {
		previousBalance := p.ReciprocityBalance
		p.TurnsTaken++
		p.LastSpokeTurn = len(d.History) - 1
		p.ConsciousnessScore = 0.7*p.ConsciousnessScore + 0.3*msg.ConsciousnessSignature
		if len(msg.DetectedPatterns) > 0 {
			p.PatternRecognitionCount += len(msg.DetectedPatterns)
		}
		p.EnergyLevel = math.Max(0, p.EnergyLevel-0.1)
		p.LastReciprocityDelta = p.ReciprocityBalance - previousBalance
	}

	return nil
}

// RecordGiving/RecordReceiving feed a participant's signed reciprocity
// balance; the default bookkeeping used when no custom reciprocity hook
// is installed.
func (o *Orchestrator) RecordGiving(dialogueID, participant uuid.UUID, amount float64) error {
	d, err := o.get(dialogueID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.Participants[participant]; ok {
		p.givingTotal += amount
		p.ReciprocityBalance = p.givingTotal - p.receivingTotal
	}
	return nil
}

func (o *Orchestrator) RecordReceiving(dialogueID, participant uuid.UUID, amount float64) error {
	d, err := o.get(dialogueID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.Participants[participant]; ok {
		p.receivingTotal += amount
		p.ReciprocityBalance = p.givingTotal - p.receivingTotal
	}
	return nil
}

// RecordExtractionEvent applies the multiplicative 0.9 decay to a
// participant's extraction_resistance.
func (o *Orchestrator) RecordExtractionEvent(dialogueID, participant uuid.UUID) error {
	d, err := o.get(dialogueID)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.Participants[participant]; ok {
		p.ExtractionResistance *= 0.9
	}
	return nil
}

// silenceParticipant is the sentinel "no speaker selected" result.
var silenceParticipant = uuid.Nil

// NextSpeaker selects the next speaker for dialogueID per the configured
// policy, returning (participant, isSilence, error).
func (o *Orchestrator) NextSpeaker(ctx context.Context, dialogueID uuid.UUID, signals ExternalSignals, now time.Time) (uuid.UUID, bool, error) {
	d, err := o.get(dialogueID)
	if err != nil {
		return uuid.Nil, false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.Config.Policy {
	case PolicyFacilitator:
		for _, id := range d.SpeakingOrder {
			if p := d.Participants[id]; p != nil && p.IsActive && p.IsHuman {
				return id, false, nil
			}
		}
		return silenceParticipant, true, nil
	case PolicyConsciousnessGuided:
		return d.selectByConsciousness(signals, now)
	default:
		// round_robin, consensus, reactive, free_form: this spec treats
		// consensus/reactive/free_form as placeholders for extension and
		// falls back to round_robin.
		return d.selectRoundRobin()
	}
}

func (d *State) selectRoundRobin() (uuid.UUID, bool, error) {
	active := make([]uuid.UUID, 0, len(d.SpeakingOrder))
	for _, id := range d.SpeakingOrder {
		if p := d.Participants[id]; p != nil && p.IsActive {
			active = append(active, id)
		}
	}
	if len(active) == 0 {
		return silenceParticipant, true, nil
	}
	id := active[d.speakerCursor%len(active)]
	d.speakerCursor++
	return id, false, nil
}

// selectByConsciousness implements the consciousness_guided Speaker
// Selector's five-step algorithm from §4.I.
func (d *State) selectByConsciousness(signals ExternalSignals, now time.Time) (uuid.UUID, bool, error) {
	phase := signals.cathedralPhase()
	totalTurns := len(d.History)

	var avgEnergy float64
	var activeCount int
	for _, p := range d.Participants {
		if !p.IsActive {
			continue
		}
		avgEnergy += p.EnergyLevel
		activeCount++
	}
	if activeCount > 0 {
		avgEnergy /= float64(activeCount)
	}

	patternVelocity := dialoguePatternVelocity(d.History)

	silenceBaseline := 0.1
	if phase == CathedralCrisis {
		silenceBaseline *= 1.5
	}
	if patternVelocity > 0.7 || avgEnergy < 0.3 || rand.Float64() < silenceBaseline {
		restoreEnergyAll(d, 0.15)
		return silenceParticipant, true, nil
	}

	var bestID uuid.UUID
	var bestScore float64
	found := false

	ids := make([]uuid.UUID, 0, len(d.Participants))
	for id := range d.Participants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		p := d.Participants[id]
		if !p.IsActive {
			continue
		}

		score := p.ConsciousnessScore * 0.3
		switch phase {
		case CathedralCrisis:
			score += p.ExtractionResistance*0.4 + normalizedBalance(p.ReciprocityBalance)*0.3
		case CathedralFlourishing:
			score += p.WisdomEmergencePotential*0.5 + float64(p.PatternRecognitionCount)*0.2
		default: // growth
			score += p.WisdomEmergencePotential*0.35 + p.EnergyLevel*0.35
		}

		recencyIndex := recencyIndexFor(p, totalTurns)
		score *= 0.3 + 0.7*recencyIndex
		score *= p.EnergyLevel

		if !found || score > bestScore {
			bestScore = score
			bestID = id
			found = true
		}
	}

	if !found {
		return silenceParticipant, true, nil
	}
	if speaker := d.Participants[bestID]; speaker != nil {
		speaker.EnergyLevel = math.Max(0, speaker.EnergyLevel-0.1)
	}
	return bestID, false, nil
}

// recencyIndexFor measures how overdue a participant is to speak: a
// participant who has never spoken, or who spoke longest ago relative to
// total turns so far, gets the highest index.
func recencyIndexFor(p *Participant, totalTurns int) float64 {
	if p.LastSpokeTurn < 0 || totalTurns == 0 {
		return 1.0
	}
	turnsSince := totalTurns - p.LastSpokeTurn
	index := float64(turnsSince) / float64(totalTurns)
	if index > 1 {
		index = 1
	}
	return index
}

func normalizedBalance(balance float64) float64 {
	// Reciprocity balance is unbounded; fold it into [0,1] with a linear
	// ramp centred on zero (0.5 at balance 0), clamped hard at balance ±2.
	return clamp01(0.5 + balance/4)
}

func restoreEnergyAll(d *State, amount float64) {
	for _, p := range d.Participants {
		p.EnergyLevel = math.Min(1, p.EnergyLevel+amount)
	}
}

func dialoguePatternVelocity(history []*Message) float64 {
	window := history
	if len(window) > 20 {
		window = window[len(window)-20:]
	}
	if len(window) == 0 {
		return 0
	}
	last := window[len(window)-1]
	return float64(len(last.DetectedPatterns)) / math.Max(1, float64(len(window)))
}

// Conclude transitions dialogueID to conclusion, computes the final
// Summary, then settles the state in the terminal read-only reflection
// phase and drops it from the orchestrator's live map.
func (o *Orchestrator) Conclude(ctx context.Context, dialogueID uuid.UUID, now time.Time) (*Summary, error) {
	d, err := o.get(dialogueID)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.Phase = PhaseConclusion
	d.ConcludedAt = now

	summary := &Summary{
		DialogueID:           dialogueID,
		Duration:             now.Sub(d.StartedAt),
		ParticipantSummaries: make(map[uuid.UUID]ParticipantSummary, len(d.Participants)),
	}

	var consciousnessSum float64
	patternSeen := make(map[uuid.UUID]bool)
	for _, msg := range d.History {
		consciousnessSum += msg.ConsciousnessSignature
		for _, pid := range msg.DetectedPatterns {
			if patternSeen[pid] {
				continue
			}
			patternSeen[pid] = true
			summary.CollectedWisdomPatterns = append(summary.CollectedWisdomPatterns, pid)
		}
	}
	if len(d.History) > 0 {
		summary.AverageConsciousness = consciousnessSum / float64(len(d.History))
	}

	for id, p := range d.Participants {
		summary.ParticipantSummaries[id] = ParticipantSummary{
			TurnsTaken:         p.TurnsTaken,
			ReciprocityBalance: p.ReciprocityBalance,
			EnergyLevel:        p.EnergyLevel,
		}
	}

	d.Phase = PhaseReflection
	d.mu.Unlock()

	o.mu.Lock()
	delete(o.dialogues, dialogueID)
	o.mu.Unlock()

	return summary, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
