package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prepline/internal/app"
	"prepline/internal/config"
	"prepline/internal/db"
	"prepline/internal/domain"
	"prepline/internal/engine"
	"prepline/internal/logging"
	"prepline/internal/migrate"
	"prepline/internal/profiler"
	"prepline/internal/repo"
	"prepline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Prepline CLI",
	Long: `Prepline turns a certification goal into a study plan and tracks you to exam day.
Core concepts:
- Workspace: the .prepline directory holding the database and prepline.yml.
- Session: one learner preparing for one exam; everything hangs off it.
- Pipeline: intake -> profile -> plan -> progress -> readiness -> advice.
- Profile: per-domain knowledge and confidence, heuristic or LLM-assisted.
- Plan: weighted hour allocation over exam domains with a review tail.
- Path: curated study modules matched to the plan.
- Quiz: practice questions generated from the catalog, graded server-side.
- Guardrails: data-quality checks on every stage; BLOCK halts the stage.
- Event log: append-only diary of everything, view with 'pl events'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("PREPLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("session", "", "session id (default: the only session in the workspace)")
	rootCmd.PersistentFlags().Bool("verbose", false, "log engine activity")
	rootCmd.PersistentFlags().String("llm", "", "profiler provider override (heuristic, gemini)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("session", rootCmd.PersistentFlags().Lookup("session"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("llm", rootCmd.PersistentFlags().Lookup("llm"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(intakeCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(pathCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(readinessCmd())
	rootCmd.AddCommand(quizCmd())
	rootCmd.AddCommand(adviseCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(checksCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a prepline workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			dir, err := db.EnsureWorkspace(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			wrote := false
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				wrote = true
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"workspace": dir, "config": cfgPath, "config_written": wrote})
			}
			fmt.Printf("Initialized prepline workspace in %s\n", dir)
			if wrote {
				fmt.Printf("Wrote default config to %s\n", cfgPath)
			} else {
				fmt.Printf("Config already present at %s\n", cfgPath)
			}
			fmt.Println("Next: pl intake --name <you> --exam az-900")
			return nil
		},
	}
	return cmd
}

func intakeCmd() *cobra.Command {
	var name, email, examCode, background, experience, style string
	var hoursPerWeek float64
	var totalWeeks int
	var certs []string
	cmd := &cobra.Command{
		Use:   "intake",
		Short: "Start a study session from learner intake",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if examCode == "" {
					examCode = e.Config.Catalog.DefaultExam
				}
				in := domain.Intake{
					Name:           name,
					Email:          email,
					ExamCode:       examCode,
					Background:     background,
					Experience:     domain.CoerceExperienceLevel(experience),
					Style:          domain.CoerceLearningStyle(style),
					HoursPerWeek:   hoursPerWeek,
					TotalWeeks:     totalWeeks,
					Certifications: certs,
				}
				s, err := e.Intake(ctx, engine.IntakeOptions{Intake: in, ActorID: viper.GetString("actor-id")})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Session %s created for %s (%s)\n", s.ID, s.Learner, strings.ToUpper(s.ExamCode))
				fmt.Println("Next: pl profile")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "learner name")
	cmd.Flags().StringVar(&email, "email", "", "contact email")
	cmd.Flags().StringVar(&examCode, "exam", "", "exam code (default from config)")
	cmd.Flags().StringVar(&background, "background", "", "prior experience, free text")
	cmd.Flags().StringVar(&experience, "experience", "beginner", "experience level (beginner, intermediate, advanced)")
	cmd.Flags().StringVar(&style, "style", "mixed", "learning style (visual, reading, hands_on, mixed)")
	cmd.Flags().Float64Var(&hoursPerWeek, "hours-per-week", 8, "study hours per week")
	cmd.Flags().IntVar(&totalWeeks, "weeks", 6, "weeks until the exam")
	cmd.Flags().StringArrayVar(&certs, "cert", []string{}, "certification already held (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Build the learner profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				p, err := e.Profile(ctx, s.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				exam := examFor(e, s.ExamCode)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Domain", "Knowledge", "Confidence", "Skip"})
				for _, dp := range p.Domains {
					tw.AppendRow(table.Row{domainName(exam, dp.DomainID), dp.Knowledge, fmt.Sprintf("%.2f", dp.Confidence), yesNo(dp.Skip)})
				}
				tw.Render()
				fmt.Printf("Budget: %.0f hours (%v h/week x %d weeks)\n", p.BudgetHours, p.Intake.HoursPerWeek, p.Intake.TotalWeeks)
				if len(p.RiskDomains) > 0 {
					fmt.Printf("Risk domains: %s\n", strings.Join(p.RiskDomains, ", "))
				}
				if p.Recommendation != "" {
					fmt.Printf("Recommendation: %s\n", p.Recommendation)
				}
				return nil
			})
		},
	}
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build the study plan and learning path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				plan, path, err := e.Plan(ctx, s.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"plan": plan, "path": path})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Weeks", "Domain", "Hours", "Priority", "Note"})
				for _, t := range plan.Tasks {
					tw.AppendRow(table.Row{weekSpan(t.StartWeek, t.EndWeek), t.DomainName, fmt.Sprintf("%.1f", t.Hours), t.Priority, t.Note})
				}
				tw.Render()
				fmt.Printf("Review starts week %d; %.0f budget hours over %d weeks\n", plan.ReviewStartWeek, plan.BudgetHours, plan.TotalWeeks)
				if plan.PrereqGap {
					fmt.Printf("Prerequisite gap: %s\n", plan.PrereqNote)
				}
				fmt.Println(plan.Summary)
				fmt.Printf("Curated %d modules (%.1f hours), see pl path\n", len(path.Modules), path.TotalHours)
				return nil
			})
		},
	}
	return cmd
}

func pathCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "path",
		Short: "Show the curated learning path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				path, err := e.Repo.GetPath(ctx, s.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(path)
				}
				exam := examFor(e, path.ExamCode)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Module", "Domain", "Level", "Hours"})
				for _, m := range path.Modules {
					tw.AppendRow(table.Row{m.Name, domainName(exam, m.DomainID), m.Level, fmt.Sprintf("%.1f", m.Hours)})
				}
				tw.Render()
				fmt.Printf("Total: %.1f hours\n", path.TotalHours)
				fmt.Println(path.Summary)
				return nil
			})
		},
	}
	return cmd
}

func progressCmd() *cobra.Command {
	var week int
	var hoursSpent float64
	var ratings []string
	var practiceScore float64
	var practice, note string
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Record a weekly progress snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			selfRatings, err := parseRatings(ratings)
			if err != nil {
				return err
			}
			opts := engine.SnapshotOptions{
				Week:        week,
				HoursSpent:  hoursSpent,
				SelfRatings: selfRatings,
				Practice:    practice,
				Note:        note,
			}
			if cmd.Flags().Changed("practice-score") {
				opts.PracticeScore = &practiceScore
			}
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				snap, err := e.Track(ctx, s.ID, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snap)
				}
				fmt.Printf("Week %d recorded: %.1f hours", snap.Week, snap.HoursSpent)
				if snap.PracticeScore != nil {
					fmt.Printf(", practice %.0f%%", *snap.PracticeScore)
				}
				fmt.Println()
				fmt.Println("Next: pl readiness")
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&week, "week", 0, "week number (1-based)")
	cmd.Flags().Float64Var(&hoursSpent, "hours", 0, "hours studied this week")
	cmd.Flags().StringArrayVar(&ratings, "rating", []string{}, "self rating as domain-id=1..5 (repeatable)")
	cmd.Flags().Float64Var(&practiceScore, "practice-score", 0, "practice exam score percent")
	cmd.Flags().StringVar(&practice, "practice", "none", "practice exams taken (none, some, multiple)")
	cmd.Flags().StringVar(&note, "note", "", "free-form note")
	_ = cmd.MarkFlagRequired("week")
	return cmd
}

func readinessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readiness",
		Short: "Assess exam readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				a, err := e.Readiness(ctx, s.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Domain", "Expected", "Actual", "Status"})
				for _, ds := range a.DomainStatuses {
					tw.AppendRow(table.Row{ds.Name, fmt.Sprintf("%.0f%%", 100*ds.Expected), fmt.Sprintf("%.0f%%", 100*ds.Actual), ds.Status})
				}
				tw.Render()
				fmt.Printf("Readiness: %.1f%% (%s)\n", a.ReadinessPct, a.Verdict)
				fmt.Printf("Components: domains %.0f%%, hours %.0f%%, practice %.0f%%\n", 100*a.DomainComponent, 100*a.HoursComponent, 100*a.PracticeComponent)
				if len(a.Nudges) > 0 {
					nt := table.NewWriter()
					nt.SetOutputMirror(os.Stdout)
					nt.AppendHeader(table.Row{"Level", "Nudge"})
					for _, n := range a.Nudges {
						nt.AppendRow(table.Row{n.Level, n.Text})
					}
					nt.Render()
				}
				fmt.Println(a.GoNoGoReason)
				return nil
			})
		},
	}
	return cmd
}

func quizCmd() *cobra.Command {
	quiz := &cobra.Command{
		Use:   "quiz",
		Short: "Practice quizzes",
		Long:  "Generate practice quizzes from the exam catalog, review the questions, and submit an answer sheet for grading. Letters map to options (A is the first).",
	}
	quiz.AddCommand(quizNewCmd())
	quiz.AddCommand(quizShowCmd())
	quiz.AddCommand(quizAnswerCmd())
	return quiz
}

func quizNewCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Generate a practice quiz",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				a, err := e.NewQuiz(ctx, s.ID, count)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				renderQuiz(a)
				fmt.Printf("Answer with: pl quiz answer --answers A,B,...  (%d answers)\n", len(a.Questions))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "number of questions (default from config limits)")
	return cmd
}

func quizShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [quiz-id]",
		Short: "Show a quiz (latest when no id given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				var a domain.Assessment
				var err error
				if len(args) == 1 {
					a, err = e.Repo.GetAssessment(ctx, args[0])
				} else {
					a, err = e.Repo.LatestAssessment(ctx, s.ID)
				}
				if err != nil {
					return err
				}
				if a.SessionID != s.ID {
					return fmt.Errorf("quiz %s does not belong to session %s", a.ID, s.ID)
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				renderQuiz(a)
				return nil
			})
		},
	}
	return cmd
}

func quizAnswerCmd() *cobra.Command {
	var quizID, answerList string
	cmd := &cobra.Command{
		Use:   "answer",
		Short: "Submit an answer sheet for grading",
		RunE: func(cmd *cobra.Command, args []string) error {
			answers, err := parseAnswers(answerList)
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				res, err := e.Grade(ctx, s.ID, quizID, answers)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Score: %d/%d (%.0f%%) %s\n", res.Correct, res.Total, res.ScorePct, passFail(res.Passed))
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Yours", "Correct", "Result", "Explanation"})
				for i, f := range res.Feedback {
					tw.AppendRow(table.Row{i + 1, optionLetter(f.Selected), optionLetter(f.CorrectIndex), passFail(f.Correct), f.Explanation})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&quizID, "quiz", "", "quiz id (default: latest)")
	cmd.Flags().StringVar(&answerList, "answers", "", "comma-separated answers, letters or 0-based indices")
	_ = cmd.MarkFlagRequired("answers")
	return cmd
}

func adviseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advise",
		Short: "Get the final go/no-go recommendation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				rec, err := e.Advise(ctx, s.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rec)
				}
				fmt.Printf("Verdict: %s\n", rec.GoNoGo)
				fmt.Println(rec.Reason)
				for i, step := range rec.NextSteps {
					fmt.Printf("%d. %s\n", i+1, step)
				}
				if len(rec.Resources) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Resource", "URL"})
					for _, r := range rec.Resources {
						tw.AppendRow(table.Row{r.Title, r.URL})
					}
					tw.Render()
				}
				if rec.NextExam != "" {
					fmt.Printf("After this exam, consider %s\n", strings.ToUpper(rec.NextExam))
				}
				return nil
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show session status",
		Long:  "See where the session stands: which artifacts exist, how many snapshots and quizzes were recorded, and the latest readiness and advice headlines.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				st, err := e.Status(ctx, s.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Session: %s (%s, stage %s)\n", st.Session.ID, st.Session.Learner, st.Session.Stage)
				fmt.Printf("Exam: %s\n", strings.ToUpper(st.Session.ExamCode))
				fmt.Printf("Artifacts: intake %s, profile %s, plan %s, path %s\n",
					yesNo(st.HasIntake), yesNo(st.HasProfile), yesNo(st.HasPlan), yesNo(st.HasPath))
				fmt.Printf("Snapshots: %d, quizzes: %d\n", st.Snapshots, st.Quizzes)
				if st.Verdict != "" {
					fmt.Printf("Readiness: %.1f%% (%s)\n", st.ReadinessPct, st.Verdict)
				}
				if st.Quizzes > 0 {
					fmt.Printf("Last quiz: %.0f%% %s\n", st.LastScorePct, passFail(st.LastPassed))
				}
				if st.GoNoGo != "" {
					fmt.Printf("Advice: %s\n", st.GoNoGo)
				}
				return nil
			})
		},
	}
	return cmd
}

func checksCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "checks",
		Short: "List guardrail check results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, e engine.Engine, s domain.Session) error {
				checks, err := e.Checks(ctx, s.ID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(checks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Stage", "Blocked", "Violations", "Created"})
				for _, c := range checks {
					tw.AppendRow(table.Row{c.ID, c.Stage, yesNo(c.Blocked), violationSummary(c.Violations), c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of checks")
	return cmd
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions in the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSessions(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Learner", "Exam", "Stage", "Created"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Learner, s.ExamCode, s.Stage, s.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func eventsCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sessionID := viper.GetString("session")
				if sessionID != "" {
					s, err := app.ResolveSession(ctx, sessionID, e.Repo)
					if err != nil {
						return err
					}
					sessionID = s.ID
				}
				events, err := e.Repo.LatestEvents(ctx, n, sessionID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, evt := range events {
					entity := evt.EntityKind
					if evt.EntityID != "" {
						entity += "/" + evt.EntityID
					}
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, entity, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is the rulebook: exam catalog, study modules, question bank, guardrail limits, trusted URL prefixes, and webhooks. Stored as .prepline/prepline.yml; built-in defaults apply when the file is absent.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func keysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
		Long:  "API keys authenticate server clients via the X-Api-Key header. Only the SHA-256 hash is stored; the raw key is shown once at creation.",
	}
	keys.AddCommand(keysCreateCmd())
	keys.AddCommand(keysListCmd())
	keys.AddCommand(keysRevokeCmd())
	return keys
}

func keysCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			raw, err := newAPIKeySecret()
			if err != nil {
				return err
			}
			key := domain.APIKey{
				ID:        uuid.NewString(),
				ActorID:   actor,
				Name:      name,
				KeyHash:   repo.HashAPIKey(raw),
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": raw})
				}
				fmt.Printf("API key %s created for %s\n", key.ID, key.ActorID)
				fmt.Printf("Key (shown once, only the hash is stored): %s\n", raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as (default: --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func keysListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created", "Last used"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt, k.LastUsedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor id")
	return cmd
}

func keysRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked API key %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var dev bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			mode := "production"
			if dev {
				mode = "development"
			}
			log, err := logging.New(mode)
			if err != nil {
				return err
			}
			defer log.Sync()
			e := engine.New(conn, cfg)
			e.Log = log
			if err := selectProfiler(cmd.Context(), &e); err != nil {
				return err
			}
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("PREPLINE_JWT_SECRET"),
				AllowLegacyActorHeader: dev,
				Logger:                 log,
			}
			if authCfg.JWTSecret == "" && !dev {
				return fmt.Errorf("PREPLINE_JWT_SECRET is required for bearer auth (or run with --dev)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(cmd.Context(), e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Prepline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&dev, "dev", false, "development mode: allow X-Actor-Id auth and verbose logs")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	e := engine.New(conn, cfg)
	if viper.GetBool("verbose") {
		log, err := logging.New("development")
		if err != nil {
			return err
		}
		defer log.Sync()
		e.Log = log
	}
	if err := selectProfiler(ctx, &e); err != nil {
		return err
	}
	return fn(ctx, e)
}

func withSession(ctx context.Context, fn func(context.Context, engine.Engine, domain.Session) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		s, err := app.ResolveSession(ctx, viper.GetString("session"), e.Repo)
		if err != nil {
			return err
		}
		return fn(ctx, e, s)
	})
}

// selectProfiler swaps in the Gemini profiler when the --llm flag or the
// config llm section asks for it. Missing API keys fail fast rather than
// silently degrading to the heuristic.
func selectProfiler(ctx context.Context, e *engine.Engine) error {
	provider := strings.ToLower(strings.TrimSpace(viper.GetString("llm")))
	if provider == "" {
		provider = strings.ToLower(strings.TrimSpace(e.Config.LLM.Provider))
	}
	switch provider {
	case "", "heuristic", "none":
		return nil
	case "gemini":
		g, err := profiler.NewGemini(ctx, e.Config)
		if err != nil {
			return err
		}
		e.Profiler = g
		return nil
	default:
		return fmt.Errorf("unknown llm provider %q (heuristic, gemini)", provider)
	}
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderQuiz(a domain.Assessment) {
	fmt.Printf("Quiz %s (%s, %d questions)\n", a.ID, strings.ToUpper(a.ExamCode), len(a.Questions))
	for i, q := range a.Questions {
		fmt.Printf("\n%d. [%s] %s\n", i+1, q.DomainName, q.Prompt)
		for j, opt := range q.Options {
			fmt.Printf("   %s) %s\n", optionLetter(j), opt)
		}
	}
}

// parseAnswers accepts letters (A maps to the first option) or bare 0-based
// indices, mixed freely.
func parseAnswers(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	answers := make([]int, 0, len(parts))
	for _, p := range parts {
		tok := strings.ToUpper(strings.TrimSpace(p))
		if tok == "" {
			continue
		}
		if len(tok) == 1 && tok[0] >= 'A' && tok[0] <= 'Z' {
			answers = append(answers, int(tok[0]-'A'))
			continue
		}
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("answer %q is neither a letter nor an index", p)
		}
		answers = append(answers, n)
	}
	if len(answers) == 0 {
		return nil, fmt.Errorf("no answers given")
	}
	return answers, nil
}

func parseRatings(entries []string) (map[string]int, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	ratings := make(map[string]int, len(entries))
	for _, entry := range entries {
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("rating %q must be domain-id=1..5", entry)
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("rating %q must be domain-id=1..5", entry)
		}
		ratings[strings.TrimSpace(k)] = n
	}
	return ratings, nil
}

func newAPIKeySecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "pl_" + hex.EncodeToString(buf), nil
}

func optionLetter(i int) string {
	if i < 0 || i > 25 {
		return fmt.Sprint(i)
	}
	return string(rune('A' + i))
}

func weekSpan(start, end int) string {
	if start == end {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d-%d", start, end)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func passFail(b bool) string {
	if b {
		return "pass"
	}
	return "fail"
}

func violationSummary(violations []domain.GuardrailViolation) string {
	if len(violations) == 0 {
		return ""
	}
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, fmt.Sprintf("%s(%s)", v.Rule, v.Severity))
	}
	return strings.Join(parts, ", ")
}

func examFor(e engine.Engine, code string) domain.Exam {
	if exam, ok := e.Config.Exam(code); ok {
		return exam
	}
	return e.Config.DefaultExam()
}

func domainName(exam domain.Exam, id string) string {
	for _, d := range exam.Domains {
		if d.ID == id {
			return d.Name
		}
	}
	return id
}
