// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/teradata-labs/qc/internal/log"
	"github.com/teradata-labs/qc/pkg/engine"
	"github.com/teradata-labs/qc/pkg/judge"
	"github.com/teradata-labs/qc/pkg/results"
)

var (
	endpoint   string
	model      string
	quants     []string
	baseTag    string
	repository string

	judgeSpec     string
	judgeBestSpec string
	judgeMode     string
	judgeCtx      int

	suitePath  string
	outputPath string

	temperature      float64
	seed             int
	topP             float64
	topK             int
	repeatPenalty    float64
	frequencyPenalty float64
	think            bool
	thinkLevel       string

	timeoutSecs int

	force       bool
	rejudge     bool
	onDemand    bool
	noUnloadAll bool
	verbose     bool
	logfile     string

	fixPath       string
	restoreBackup string
	helpCloud     bool
)

var rootCmd = &cobra.Command{
	Use:   "qc",
	Short: "Compare quantized model variants against a full-precision base",
	Long: heredoc.Doc(`
		qc runs a fixed question battery against every quantized variant of a
		model on an Ollama-compatible server, then has a judge model score each
		variant's answers against the base variant's.

		Results stream into a JSON document next to where you run it, so a
		crashed or interrupted run resumes where it left off. Answered
		questions are never re-asked unless --force is given.
	`),
	Example: heredoc.Doc(`
		# Compare two local quantizations against fp16, judged locally
		qc -m llama3.1 -q fp16,q8_0,q4_K_M --judge qwen2.5:72b

		# Wildcard tags from a Hugging Face repository, pulled on demand
		qc -m hf.co/bartowski/Llama-3.3-70B-Instruct-GGUF -q "*" --ondemand

		# Cloud judge with an inline API key, judging in the background
		qc -m llama3.1 -q fp16,q4_0 --judge @claude:sk-ant-... --judgemode parallel

		# Repair a results file truncated by a crash
		qc --fix llama3.1.qc.json
	`),
	Version:       "", // filled in init from the build stamp
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	rootCmd.Version = engine.BuildVersion

	f := rootCmd.Flags()
	f.StringVar(&endpoint, "endpoint", "http://localhost:11434", "Inference server URL")
	f.StringVarP(&model, "model", "m", "", "Target model family or hf.co repository path")
	f.StringSliceVarP(&quants, "quants", "q", nil, "Variant tags to test (comma separated, * wildcards allowed)")
	f.StringVar(&baseTag, "base", "", "Tag judged against (default: first half-precision tag)")
	f.StringVar(&repository, "repository", "", "Source repository recorded in the results document")

	f.StringVar(&judgeSpec, "judge", "", "Similarity judge: model, model@URL, or @provider:key[/model]")
	f.StringVar(&judgeBestSpec, "judgebest", "", "Best-answer judge (same syntax as --judge)")
	f.StringVar(&judgeMode, "judgemode", string(engine.JudgeSerial), "When judgments run: serial or parallel")
	f.IntVar(&judgeCtx, "judgectx", 0, "Local judge context length (0 = sized from the test context)")

	f.StringVar(&suitePath, "testsuite", "", "Question suite YAML (default: embedded suite)")
	f.StringVarP(&outputPath, "output", "o", "", "Results file (default: derived from the model name)")

	f.Float64Var(&temperature, "temperature", 0, "Sampling temperature")
	f.IntVar(&seed, "seed", 42, "Sampling seed")
	f.Float64Var(&topP, "top-p", 0, "Nucleus sampling cutoff (0 = server default)")
	f.IntVar(&topK, "top-k", 0, "Top-k sampling cutoff (0 = server default)")
	f.Float64Var(&repeatPenalty, "repeat-penalty", 0, "Repetition penalty (0 = server default)")
	f.Float64Var(&frequencyPenalty, "frequency-penalty", 0, "Frequency penalty (0 = server default)")
	f.BoolVar(&think, "think", false, "Enable model thinking")
	f.StringVar(&thinkLevel, "thinklevel", "", "Thinking effort level, forwarded verbatim (e.g. low, medium, high)")

	f.IntVar(&timeoutSecs, "timeout", int(engine.DefaultTimeout/time.Second), "Per-request timeout in seconds")

	f.BoolVar(&force, "force", false, "Re-test variants that already have results")
	f.BoolVar(&rejudge, "rejudge", false, "Re-judge answers that already have judgments")
	f.BoolVar(&onDemand, "ondemand", false, "Pull missing variants and delete them when their results complete")
	f.BoolVar(&noUnloadAll, "nounloadall", false, "Leave models loaded when the run finishes")
	f.BoolVarP(&verbose, "verbose", "v", false, "Per-question output instead of progress bars")
	f.StringVar(&logfile, "logfile", "", "Append structured logs to this file")

	f.StringVar(&fixPath, "fix", "", "Repair a truncated results file and exit")
	f.StringVar(&restoreBackup, "restore-backup", "", "Decompress a results backup to stdout and exit")
	f.BoolVar(&helpCloud, "help-cloud", false, "List cloud judge providers and exit")

	rootCmd.PersistentPreRunE = bindEnv
}

// bindEnv lets every flag default from a QC_ prefixed environment variable,
// with explicit flags winning.
func bindEnv(cmd *cobra.Command, args []string) error {
	v := viper.New()
	v.SetEnvPrefix("QC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed || !v.IsSet(f.Name) {
			return
		}
		err = f.Value.Set(v.GetString(f.Name))
	})
	return err
}

func runRoot(cmd *cobra.Command, args []string) error {
	switch {
	case helpCloud:
		fmt.Fprint(cmd.OutOrStdout(), judge.HelpCloud())
		return nil
	case fixPath != "":
		return runFix(cmd, fixPath)
	case restoreBackup != "":
		data, err := results.RestoreBackup(restoreBackup)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	if err := log.Setup(verbose, logfile); err != nil {
		return err
	}
	defer log.Sync()

	cfg := &engine.Config{
		Endpoint:      endpoint,
		Model:         model,
		Quants:        splitQuants(quants),
		BaseTag:       baseTag,
		JudgeSpec:     judgeSpec,
		JudgeBestSpec: judgeBestSpec,
		JudgeMode:     engine.JudgeMode(judgeMode),
		JudgeCtx:      judgeCtx,
		SuitePath:     suitePath,
		OutputPath:    outputPath,
		Repository:    repository,
		Options: results.RunOptions{
			Temperature:      temperature,
			Seed:             seed,
			TopP:             topP,
			TopK:             topK,
			RepeatPenalty:    repeatPenalty,
			FrequencyPenalty: frequencyPenalty,
			Think:            think,
			ThinkLevel:       thinkLevel,
		},
		Timeout:     time.Duration(timeoutSecs) * time.Second,
		Force:       force,
		Rejudge:     rejudge,
		OnDemand:    onDemand,
		NoUnloadAll: noUnloadAll,
		Verbose:     verbose,
	}

	return engine.New(cfg).Run(cmd.Context())
}

func runFix(cmd *cobra.Command, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot repair %s: %w", path, err)
	}
	fixed, stats, err := results.FixFile(path)
	if err != nil {
		return fmt.Errorf("repair failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Repaired document written to %s (%s)\n", fixed, stats)
	return nil
}

// splitQuants tolerates both repeated -q flags and one comma-joined value.
func splitQuants(in []string) []string {
	var out []string
	for _, chunk := range in {
		for _, q := range strings.Split(chunk, ",") {
			if q = strings.TrimSpace(q); q != "" {
				out = append(out, q)
			}
		}
	}
	return out
}
