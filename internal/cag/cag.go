// Package cag implements the Context-Augmented Generation pipeline of spec
// §4.4: parse intent, retrieve grounded context via SIM, assemble a bounded
// prompt, stream a generated response, and verify it against the catalog.
package cag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mediacore/internal/apperrors"
	"mediacore/internal/cag/cache"
	"mediacore/internal/catalog"
	"mediacore/internal/cr"
	"mediacore/internal/logging"
	"mediacore/internal/sim"
)

// Mode selects one of spec §4.4's five request kinds.
type Mode string

const (
	ModeMashup      Mode = "mashup"
	ModeHighConcept Mode = "high_concept"
	ModeRecommend   Mode = "recommend"
	ModeSimilar     Mode = "similar"
	ModeChat        Mode = "chat"
)

// Stage is a pipeline state, per spec §4.4's state machine.
type Stage string

const (
	StageParsing     Stage = "Parsing"
	StageRetrieving  Stage = "Retrieving"
	StageAssembling  Stage = "Assembling"
	StageGenerating  Stage = "Generating"
	StagePostParsing Stage = "PostParsing"
	StageVerifying   Stage = "Verifying"
	StageDone        Stage = "Done"
	StageFailed      Stage = "Failed"
	StageCancelled   Stage = "Cancelled"
)

// Request is one CAG call, spanning all five modes; unused fields for a
// given mode are ignored.
type Request struct {
	Mode        Mode
	Text        string
	References  []string // catalog item ids or free-text titles
	Aspects     []string
	History     []ChatTurn
	Persona     *catalog.PersonaProfile
	Filter      catalog.Filter
	RankConfig  cr.Config
}

// ChatTurn is one exchange in a chat-mode conversation. CAG keeps history
// in memory only for the lifetime of a Request; persistence across process
// restarts is the wrapping app's concern (an explicit open question).
type ChatTurn struct {
	Role    string
	Content string
}

// Recommendation is one structured suggestion in the post-parsed output.
type Recommendation struct {
	Title      string
	ItemID     string // resolved catalog id, empty if unresolved
	Reasoning  string
	MatchScore float64
	Resolved   bool
}

// Response is the pipeline's terminal output.
type Response struct {
	Stage             Stage
	Recommendations   []Recommendation
	ExtractedCriteria ParsedIntent
	Warnings          []string
	RawOutput         string // preserved on MalformedOutput for diagnostics
}

// ParsedIntent is stage 1's output, per spec §4.4 step 1.
type ParsedIntent struct {
	Mode              Mode
	Aspects           []string
	Genres            []string
	EraHints          []string
	MoodHints         []string
	ResolvedRefs      map[string]string // input text -> item id
	UnresolvedRefs    []string
}

// onChunkFunc streams generated text; onChunk is never invoked after
// onComplete fires or after a confirmed cancel, per spec §5.
type onChunkFunc func(text string)

// Pipeline wires SIM, CR, a generator and the prefix cache into the seven
// stages of spec §4.4.
type Pipeline struct {
	store     catalog.Store
	retriever *sim.Retriever
	generator catalog.Generator
	cache     *cache.Cache
	persister catalog.CachePersister // optional, nil if store doesn't implement it
	recipeID  string

	maxPrefilterCandidates int
	retrievalTopM          int
	contextTokenBudget     int
	generateTimeout        time.Duration
}

// Config tunes the pipeline's bounded-resource knobs, per spec §4.4/§6.
type Config struct {
	MaxPrefilterCandidates int
	RetrievalTopM          int
	ContextTokenBudget     int
	GenerateTimeout        time.Duration
	CacheCeilingBytes      int64
}

// New constructs a Pipeline.
func New(store catalog.Store, retriever *sim.Retriever, generator catalog.Generator, recipeID string, cfg Config) *Pipeline {
	if cfg.MaxPrefilterCandidates <= 0 {
		cfg.MaxPrefilterCandidates = 500
	}
	if cfg.RetrievalTopM <= 0 {
		cfg.RetrievalTopM = 12
	}
	if cfg.ContextTokenBudget <= 0 {
		cfg.ContextTokenBudget = 4000
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 60 * time.Second
	}
	c := cache.New(cfg.CacheCeilingBytes)
	persister, _ := store.(catalog.CachePersister)
	if persister != nil {
		if records, err := persister.LoadCacheEntries(context.Background()); err == nil {
			c.Load(records)
		}
	}
	return &Pipeline{
		store:                  store,
		retriever:              retriever,
		generator:              generator,
		cache:                  c,
		persister:              persister,
		recipeID:               recipeID,
		maxPrefilterCandidates: cfg.MaxPrefilterCandidates,
		retrievalTopM:          cfg.RetrievalTopM,
		contextTokenBudget:     cfg.ContextTokenBudget,
		generateTimeout:        cfg.GenerateTimeout,
	}
}

// Cache exposes the pipeline's in-memory prefix cache. cmd/core's `cache
// clear` and `cache metrics` work on the persisted cache rows instead.
func (p *Pipeline) Cache() *cache.Cache { return p.cache }

// Run drives a request through all seven stages, reporting each stage
// transition via onStage and each generated chunk via onChunk. It returns
// once the pipeline reaches Done, Failed or Cancelled.
func (p *Pipeline) Run(ctx context.Context, req Request, onStage func(Stage), onChunk onChunkFunc) (Response, error) {
	notify := func(s Stage) {
		if onStage != nil {
			onStage(s)
		}
	}
	log := logging.FromContext(ctx)

	notify(StageParsing)
	intent, err := p.parseIntent(ctx, req)
	if err != nil {
		notify(StageFailed)
		return Response{Stage: StageFailed}, err
	}
	if ctx.Err() != nil {
		notify(StageCancelled)
		return Response{Stage: StageCancelled}, apperrors.New(apperrors.KindCancelled, "cancelled during parsing")
	}

	notify(StageRetrieving)
	candidates, warnings, err := p.retrieve(ctx, req, intent)
	if err != nil {
		notify(StageFailed)
		return Response{Stage: StageFailed}, err
	}
	if ctx.Err() != nil {
		notify(StageCancelled)
		return Response{Stage: StageCancelled}, apperrors.New(apperrors.KindCancelled, "cancelled during retrieval")
	}

	notify(StageAssembling)
	prompt, assembleWarnings, err := p.assemble(ctx, req, intent, candidates)
	if err != nil {
		notify(StageFailed)
		return Response{Stage: StageFailed}, err
	}
	warnings = append(warnings, assembleWarnings...)

	notify(StageGenerating)
	cacheKey := cache.Key{
		PersonaID:          personaID(req),
		GeneratorModelID:   p.generator.ModelID(),
		ChunkRecipeID:      p.recipeID,
		ContextFingerprint: fingerprintContext(prompt),
	}
	var cacheHint []byte
	if hit, ok := p.cache.Get(cacheKey); ok && !hit.Writing {
		cacheHint = hit.PrefixState
	}
	p.cache.Put(cacheKey, catalog.CagCacheEntry{Writing: true})

	genCtx, cancel := context.WithTimeout(ctx, p.generateTimeout)
	defer cancel()
	raw, err := p.generate(genCtx, req, prompt, cacheHint, onChunk)
	if err != nil {
		// Scenario D: a cancelled or failed generation must not leave the
		// reserved slot behind in Writing state.
		p.cache.Evict(cacheKey)
		if apperrors.Is(err, apperrors.KindCancelled) {
			notify(StageCancelled)
			return Response{Stage: StageCancelled}, err
		}
		notify(StageFailed)
		return Response{Stage: StageFailed}, err
	}

	final := catalog.CagCacheEntry{PrefixState: []byte(raw), SizeBytes: int64(len(raw))}
	p.cache.Put(cacheKey, final)
	if p.persister != nil {
		if perr := p.persister.SaveCacheEntry(ctx, catalog.CacheRecord{
			PersonaID:          cacheKey.PersonaID,
			GeneratorModelID:   cacheKey.GeneratorModelID,
			ChunkRecipeID:      cacheKey.ChunkRecipeID,
			ContextFingerprint: cacheKey.ContextFingerprint,
			Entry:              final,
		}); perr != nil {
			log.Warn().Err(perr).Msg("failed to persist cache entry")
		}
	}

	notify(StagePostParsing)
	parsed, err := p.postParse(genCtx, req, raw)
	if err != nil {
		notify(StageFailed)
		return Response{Stage: StageFailed, RawOutput: raw}, err
	}

	notify(StageVerifying)
	recs := p.verify(ctx, parsed)

	log.Info().Str("mode", string(req.Mode)).Int("recommendations", len(recs)).Msg("cag request completed")
	notify(StageDone)
	return Response{
		Stage:             StageDone,
		Recommendations:   recs,
		ExtractedCriteria: intent,
		Warnings:          warnings,
	}, nil
}

// parseIntent implements spec §4.4 stage 1: extract aspects/genre/era/mood
// hints and resolve explicit references exact -> case-fold -> SIM text
// search.
func (p *Pipeline) parseIntent(ctx context.Context, req Request) (ParsedIntent, error) {
	intent := ParsedIntent{
		Mode:         req.Mode,
		Aspects:      req.Aspects,
		ResolvedRefs: map[string]string{},
	}
	intent.Genres, intent.EraHints, intent.MoodHints = extractHints(req.Text)

	for _, ref := range req.References {
		id, ok, err := p.resolveReference(ctx, ref)
		if err != nil {
			return intent, err
		}
		if ok {
			intent.ResolvedRefs[ref] = id
		} else {
			intent.UnresolvedRefs = append(intent.UnresolvedRefs, ref)
		}
	}
	return intent, nil
}

// resolveReference implements the exact -> case-fold -> SIM text search
// resolution order shared by stages 1 and 7.
func (p *Pipeline) resolveReference(ctx context.Context, ref string) (string, bool, error) {
	if item, err := p.store.GetItem(ctx, ref); err == nil && item != nil {
		return item.ID, true, nil
	}

	folded := strings.ToLower(strings.TrimSpace(ref))
	items, _, _, err := p.store.IterItems(ctx, catalog.Filter{}, catalog.Cursor{})
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "iter_items while resolving reference")
	}
	for _, it := range items {
		if strings.ToLower(it.Title) == folded {
			return it.ID, true, nil
		}
	}

	// A text-search match must be near-exact in vector space; a merely
	// similar item is not the same reference and must stay unresolved.
	const textSearchMatchThreshold = 0.92
	if p.retriever != nil {
		res, err := p.retriever.Nearest(ctx, sim.Probe{Text: ref}, 1, catalog.Filter{}, sim.Weights{Vector: 1})
		if err == nil && len(res.Hits) > 0 && res.Hits[0].Score >= textSearchMatchThreshold {
			return res.Hits[0].ItemID, true, nil
		}
	}
	return "", false, nil
}

func extractHints(text string) (genres, eras, moods []string) {
	lower := strings.ToLower(text)
	knownGenres := []string{"fantasy", "action", "drama", "sci-fi", "romance", "horror", "comedy", "noir", "documentary"}
	for _, g := range knownGenres {
		if strings.Contains(lower, g) {
			genres = append(genres, g)
		}
	}
	knownMoods := []string{"serious", "lighthearted", "dark", "uplifting", "tense"}
	for _, m := range knownMoods {
		if strings.Contains(lower, m) {
			moods = append(moods, m)
		}
	}
	return genres, eras, moods
}

// retrieve implements spec §4.4 stages 2-3: SIM retrieval per reference and
// for the free-text query, restricted by req.Filter and asking up to
// maxPrefilterCandidates hits per probe, merged by max score and capped at
// retrievalTopM. req.RankConfig is not applied; no CR pre-filter runs here.
func (p *Pipeline) retrieve(ctx context.Context, req Request, intent ParsedIntent) ([]sim.Hit, []string, error) {
	var warnings []string
	filter := req.Filter
	weights := weightsForAspects(req.Aspects)

	best := map[string]sim.Hit{}
	mergeHits := func(hits []sim.Hit) {
		for _, h := range hits {
			if cur, ok := best[h.ItemID]; !ok || h.Score > cur.Score {
				best[h.ItemID] = h
			}
		}
	}

	probes := make([]sim.Probe, 0, len(intent.ResolvedRefs)+1)
	for _, id := range intent.ResolvedRefs {
		probes = append(probes, sim.Probe{ItemID: id})
	}
	if req.Text != "" {
		probes = append(probes, sim.Probe{Text: req.Text})
	}
	if len(probes) == 0 {
		return nil, warnings, nil
	}

	for _, probe := range probes {
		res, err := p.retriever.Nearest(ctx, probe, p.maxPrefilterCandidates, filter, weights)
		if err != nil {
			if apperrors.Is(err, apperrors.KindNotIndexed) {
				warnings = append(warnings, fmt.Sprintf("probe %v has no embedding, skipped", probe))
				continue
			}
			return nil, warnings, err
		}
		if res.Undersized {
			warnings = append(warnings, "retrieval pool smaller than requested")
		}
		mergeHits(res.Hits)
	}

	out := make([]sim.Hit, 0, len(best))
	for _, h := range best {
		out = append(out, h)
	}
	sortHitsByScore(out)
	if len(out) > p.retrievalTopM {
		out = out[:p.retrievalTopM]
	}
	return out, warnings, nil
}

func sortHitsByScore(hits []sim.Hit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Score > hits[j-1].Score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

func weightsForAspects(aspects []string) sim.Weights {
	w := sim.DefaultWeights
	for _, a := range aspects {
		switch a {
		case "dialogue", "tone":
			w.GenreOverlap *= 1.5
			w.PeopleOverlap *= 1.5
		case "structure":
			w.EraAffinity *= 1.5
		}
	}
	return w
}

// assemble implements spec §4.4 stage 4: a prompt with three fixed zones,
// the context block truncated from the end to fit contextTokenBudget.
func (p *Pipeline) assemble(ctx context.Context, req Request, intent ParsedIntent, hits []sim.Hit) (string, []string, error) {
	var warnings []string
	var b strings.Builder

	if req.Persona != nil {
		b.WriteString(req.Persona.SystemPreamble)
		b.WriteString("\n\n")
	}

	fitted := 0
	budget := p.contextTokenBudget
	for _, h := range hits {
		line, err := p.factSheet(ctx, h.ItemID)
		if err != nil {
			continue
		}
		cost := estimateTokens(line)
		if cost > budget {
			break
		}
		b.WriteString(line)
		b.WriteString("\n")
		budget -= cost
		fitted++
	}
	if fitted == 0 && len(hits) > 0 {
		return "", nil, apperrors.New(apperrors.KindInputInvalid, "context_too_large: zero references fit the token budget")
	}
	if fitted < len(hits) {
		warnings = append(warnings, fmt.Sprintf("context truncated: %d/%d references included", fitted, len(hits)))
	}

	b.WriteString("\n---\n")
	b.WriteString(req.Text)
	b.WriteString("\n\nRespond ONLY with JSON matching: ")
	b.WriteString(schemaFor(req.Mode))

	return b.String(), warnings, nil
}

func (p *Pipeline) factSheet(ctx context.Context, itemID string) (string, error) {
	item, err := p.store.GetItem(ctx, itemID)
	if err != nil || item == nil {
		return "", apperrors.New(apperrors.KindNotFound, "item %s not found", itemID)
	}
	links, _ := p.store.GetGenreLinks(ctx, itemID)
	genres := make([]string, 0, len(links))
	for _, l := range links {
		genres = append(genres, l.Genre)
	}
	rating := ""
	if item.PersonalRating != nil {
		rating = fmt.Sprintf(", personal_rating=%.1f", *item.PersonalRating)
	}
	return fmt.Sprintf("- %s (%d, %s) genres=%v: %s%s",
		item.Title, item.ReleaseDate.Year(), item.Kind, genres, firstSentence(item.Overview), rating), nil
}

func firstSentence(s string) string {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i+1]
	}
	return s
}

func estimateTokens(s string) int {
	return len(strings.Fields(s)) * 4 / 3
}

func schemaFor(mode Mode) string {
	switch mode {
	case ModeHighConcept:
		return `{"pitch":string,"act_structure":[string],"archetypes":[string]}`
	default:
		return `{"recommendations":[{"title":string,"reasoning":string,"match_score":number}],"extracted_criteria":{"genres":[string]}}`
	}
}

func personaID(req Request) string {
	if req.Persona == nil {
		return ""
	}
	return req.Persona.ID
}

// fingerprintContext normalizes the assembled prompt into the §4.4 cache
// key's context fingerprint. This is a correctness primitive (stable,
// collision-resistant hashing), not a domain concern, so it stays stdlib.
func fingerprintContext(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// generate implements spec §4.4 stage 5: streaming generation with
// cancellation honored at chunk granularity. cacheHint, when non-empty, lets
// the generator resume from a cached prefix state.
func (p *Pipeline) generate(ctx context.Context, req Request, prompt string, cacheHint []byte, onChunk onChunkFunc) (string, error) {
	chunks, errc := p.generator.Stream(ctx, prompt, cacheHint)
	var out strings.Builder
	for {
		select {
		case c, ok := <-chunks:
			if !ok {
				if ctx.Err() != nil {
					return out.String(), apperrors.New(apperrors.KindCancelled, "generation cancelled")
				}
				return out.String(), nil
			}
			if ctx.Err() != nil {
				return out.String(), apperrors.New(apperrors.KindCancelled, "generation cancelled")
			}
			out.WriteString(c.Text)
			if onChunk != nil {
				onChunk(c.Text)
			}
			if c.Done {
				return out.String(), nil
			}
		case err := <-errc:
			if err != nil {
				if ctx.Err() != nil {
					return out.String(), apperrors.New(apperrors.KindCancelled, "generation cancelled")
				}
				return out.String(), apperrors.Wrap(apperrors.KindCollaboratorUnavailable, err, "generator stream")
			}
		case <-ctx.Done():
			return out.String(), apperrors.New(apperrors.KindCancelled, "generation cancelled")
		}
	}
}

type rawRecommendations struct {
	Recommendations []struct {
		Title      string  `json:"title"`
		Reasoning  string  `json:"reasoning"`
		MatchScore float64 `json:"match_score"`
	} `json:"recommendations"`
	ExtractedCriteria struct {
		Genres []string `json:"genres"`
	} `json:"extracted_criteria"`
}

// postParse implements spec §4.4 stage 6: parse into the declared schema,
// with one repair-pass retry on malformed output.
func (p *Pipeline) postParse(ctx context.Context, req Request, raw string) ([]Recommendation, error) {
	parsed, err := parseRecommendations(raw)
	if err == nil {
		return parsed, nil
	}

	repairPrompt := fmt.Sprintf("Your previous response was not valid JSON:\n%s\n\nRespond again with ONLY valid JSON matching: %s", raw, schemaFor(req.Mode))
	repaired, genErr := p.generate(ctx, req, repairPrompt, nil, nil)
	if genErr != nil {
		return nil, apperrors.New(apperrors.KindMalformedOutput, "generator output malformed and repair failed")
	}
	parsed, err = parseRecommendations(repaired)
	if err != nil {
		return nil, &apperrors.Error{Kind: apperrors.KindMalformedOutput, Message: "generator output malformed after repair pass", RawOutput: repaired}
	}
	return parsed, nil
}

func parseRecommendations(raw string) ([]Recommendation, error) {
	start := strings.IndexAny(raw, "{[")
	if start < 0 {
		return nil, apperrors.New(apperrors.KindMalformedOutput, "no JSON object found")
	}
	var parsed rawRecommendations
	if err := json.Unmarshal([]byte(raw[start:]), &parsed); err != nil {
		return nil, apperrors.Wrap(apperrors.KindMalformedOutput, err, "unmarshal generator output")
	}
	recs := make([]Recommendation, 0, len(parsed.Recommendations))
	for _, r := range parsed.Recommendations {
		recs = append(recs, Recommendation{Title: r.Title, Reasoning: r.Reasoning, MatchScore: r.MatchScore})
	}
	return recs, nil
}

// verify implements spec §4.4 stage 7: re-resolve each recommended title;
// unresolved titles stay free-text and are never marked Resolved.
func (p *Pipeline) verify(ctx context.Context, recs []Recommendation) []Recommendation {
	out := make([]Recommendation, len(recs))
	for i, r := range recs {
		id, ok, err := p.resolveReference(ctx, r.Title)
		r.Resolved = ok && err == nil
		if r.Resolved {
			r.ItemID = id
		}
		out[i] = r
	}
	return out
}
