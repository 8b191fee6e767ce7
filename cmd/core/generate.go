package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"mediacore/internal/apperrors"
	"mediacore/internal/cag"
	"mediacore/internal/embedder"
	"mediacore/internal/generator"
	"mediacore/internal/jobs"
	"mediacore/internal/sim"
	"mediacore/internal/store/sqlite"
)

// generateRequestFile is the on-disk shape accepted by `generate --file`,
// a JSON-friendly mirror of cag.Request.
type generateRequestFile struct {
	Mode       cag.Mode       `json:"mode"`
	Text       string         `json:"text"`
	References []string       `json:"references"`
	Aspects    []string       `json:"aspects"`
	History    []cag.ChatTurn `json:"history"`
	PersonaID  string         `json:"personaId"`
}

func newGenerateCmd() *cobra.Command {
	var requestPath string
	var mode string
	var text string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run the context-augmented generation pipeline and stream its stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildRequest(requestPath, mode, text)
			if err != nil {
				return err
			}

			store, err := sqlite.Open(app.cfg.Store.SQLitePath)
			if err != nil {
				return err
			}
			emb := embedder.New("", "nomic-embed-text", 768, 10*time.Second)
			vectors := sqlite.NewVectorStore(store)
			retriever := sim.New(store, emb, vectors, app.cfg.SIM.EraTauYears, app.cfg.IDX.ChunkRecipeID)

			gen, err := generator.New(generator.Config{
				Provider: app.cfg.CAG.GeneratorProvider,
				Model:    app.cfg.CAG.GeneratorModelID,
				APIKey:   os.Getenv("ANTHROPIC_API_KEY"),
			})
			if err != nil {
				return err
			}

			pipeline := cag.New(store, retriever, gen, app.cfg.IDX.ChunkRecipeID, cag.Config{
				MaxPrefilterCandidates: app.cfg.CAG.MaxPrefilterCandidates,
				RetrievalTopM:          app.cfg.CAG.RetrievalTopM,
				ContextTokenBudget:     app.cfg.CAG.ContextTokenBudget,
				GenerateTimeout:        time.Duration(app.cfg.Timeouts.GenerateTotalMS) * time.Millisecond,
				CacheCeilingBytes:      int64(app.cfg.CAG.CacheCeilingMiB) * 1024 * 1024,
			})

			return jobs.RecordJob(cmd.Context(), store, "generate", func(ctx context.Context) error {
				return runGenerateTUI(ctx, pipeline, req)
			})
		},
	}
	cmd.Flags().StringVar(&requestPath, "file", "", "path to a JSON-encoded generation request")
	cmd.Flags().StringVar(&mode, "mode", "mashup", "generation mode when --file is not given: mashup|high_concept|recommend|similar|chat")
	cmd.Flags().StringVar(&text, "text", "", "free-text prompt when --file is not given")
	return cmd
}

func buildRequest(requestPath, mode, text string) (cag.Request, error) {
	if requestPath == "" {
		if text == "" {
			return cag.Request{}, apperrors.New(apperrors.KindInputInvalid, "either --file or --text is required")
		}
		return cag.Request{Mode: cag.Mode(mode), Text: text}, nil
	}
	raw, err := os.ReadFile(requestPath)
	if err != nil {
		return cag.Request{}, apperrors.Wrap(apperrors.KindInputInvalid, err, "read request %s", requestPath)
	}
	var rf generateRequestFile
	if err := json.Unmarshal(raw, &rf); err != nil {
		return cag.Request{}, apperrors.Wrap(apperrors.KindInputInvalid, err, "parse request %s", requestPath)
	}
	return cag.Request{
		Mode:       rf.Mode,
		Text:       rf.Text,
		References: rf.References,
		Aspects:    rf.Aspects,
		History:    rf.History,
	}, nil
}

// generateModel renders a bubbletea view of the pipeline's stage progress
// and live-streams generated text as it arrives.
type generateModel struct {
	stage   cag.Stage
	chunks  string
	done    bool
	err     error
	resp    cag.Response
}

type stageMsg cag.Stage
type chunkMsg string
type doneMsg struct {
	resp cag.Response
	err  error
}

func (m generateModel) Init() tea.Cmd { return nil }

func (m generateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case stageMsg:
		m.stage = cag.Stage(v)
	case chunkMsg:
		m.chunks += string(v)
	case doneMsg:
		m.done = true
		m.resp = v.resp
		m.err = v.err
		return m, tea.Quit
	case tea.KeyMsg:
		if v.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m generateModel) View() string {
	header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).Render("mediacore generate")
	stageLine := lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Render("stage: " + string(m.stage))

	out := header + "\n" + stageLine + "\n\n"
	if m.chunks != "" {
		out += m.chunks + "\n"
	}
	if m.done {
		if m.err != nil {
			out += "\n" + lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).Render("error: "+m.err.Error()) + "\n"
		} else {
			for _, r := range m.resp.Recommendations {
				line := fmt.Sprintf("  %-30s score=%.2f resolved=%v", r.Title, r.MatchScore, r.Resolved)
				out += line + "\n"
			}
			for _, w := range m.resp.Warnings {
				out += lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render("warning: "+w) + "\n"
			}
		}
	}
	return out
}

// runGenerateTUI drives the pipeline in a goroutine, feeding stage and
// chunk callbacks into the bubbletea program as messages.
func runGenerateTUI(ctx context.Context, pipeline *cag.Pipeline, req cag.Request) error {
	p := tea.NewProgram(generateModel{stage: cag.StageParsing})

	go func() {
		resp, err := pipeline.Run(ctx, req, func(s cag.Stage) {
			p.Send(stageMsg(s))
		}, func(text string) {
			p.Send(chunkMsg(text))
		})
		p.Send(doneMsg{resp: resp, err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "run generate tui")
	}
	if fm, ok := finalModel.(generateModel); ok && fm.err != nil {
		return fm.err
	}
	return nil
}
