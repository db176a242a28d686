// Command reach is the strict loader's command-line entry point: load a
// release manifest and an artifact, verify and optionally execute it,
// and print the persisted canonical-JSON result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"reach/internal/compartment"
	"reach/internal/config"
	"reach/internal/evidence"
	"reach/internal/incidentlog"
	"reach/internal/kernel"
	"reach/internal/loader"
	"reach/internal/plan"
	"reach/internal/release"
	"reach/internal/store"
	"reach/internal/telemetry"
	"reach/internal/trust"
)

func main() {
	if len(os.Args) < 2 {
		printHelp()
		return
	}

	switch os.Args[1] {
	case "load":
		runLoad()
	case "help":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}

func runLoad() {
	cmd := flag.NewFlagSet("load", flag.ExitOnError)
	manifestPath := cmd.String("manifest", "", "path to the release manifest JSON (required)")
	artifactPath := cmd.String("artifact", "", "path to the artifact whose digest is recorded in the manifest's blocks")
	expectedDigest := cmd.String("expect-digest", "", "expected content digest of the artifact (sha256:<hex>)")
	planDigest := cmd.String("plan-digest", "", "expected plan digest")
	mode := cmd.String("mode", "strict", "execution mode recorded on the bound-channel envelope")
	evidencePath := cmd.String("evidence", "", "path to a JSON array of evidence records to verify with the release")
	execute := cmd.Bool("execute", false, "evaluate the artifact's entry inside a compartment after verification")
	entry := cmd.String("entry", "main", "entry export name invoked when --execute is set")
	grants := cmd.String("grants", "", "comma-separated capabilities granted to the caller block")
	tier := cmd.String("tier", "T0", "runtime trust tier for the compartment (T0, T1, T2)")
	callerHash := cmd.String("caller-block-hash", "", "block hash the compartment runs as (defaults to the expected artifact digest)")
	cmd.Parse(os.Args[2:])

	log := telemetry.Default().WithComponent("cmd.reach").WithRunID(telemetry.NewRunID())

	if *manifestPath == "" {
		log.Error("--manifest is required", nil)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	manifestBytes, err := os.ReadFile(*manifestPath)
	if err != nil {
		log.WithError(err).Error("failed to read manifest file")
		os.Exit(1)
	}

	var manifest release.Manifest
	if err := json.Unmarshal(manifestBytes, &manifest); err != nil {
		log.WithError(err).Error("failed to parse manifest file")
		os.Exit(1)
	}

	allowlist, err := loadKeyAllowlist(cfg.Release.TrustedKeysPath)
	if err != nil {
		log.WithError(err).Warn("failed to load key allowlist, signatures will not verify")
	}

	var artifactStore *store.Store
	if *artifactPath != "" && *expectedDigest != "" {
		artifactStore = store.New(cfg.Store.RootDir)
		payload, err := os.ReadFile(*artifactPath)
		if err != nil {
			log.WithError(err).Error("failed to read artifact file")
			os.Exit(1)
		}
		if res := artifactStore.Put(*expectedDigest, payload); !res.OK {
			log.WithField("reasons", fmt.Sprintf("%v", res.Reasons)).Warn("artifact did not match expected digest on put")
		}
	}

	in := loader.Input{
		Plan:       plan.Snapshot{Mode: *mode},
		PlanDigest: *planDigest,
		Release: release.VerifyInput{
			Manifest:           &manifest,
			ExpectedPlanDigest: *planDigest,
			ExpectedBlocks:     manifest.ManifestBody.Blocks,
			CryptoPort:         release.Ed25519Port{},
			KeyAllowlist:       allowlist,
		},
		ArtifactStore:        artifactStore,
		ExpectedSourceDigest: *expectedDigest,
	}

	if *evidencePath != "" {
		records, err := loadEvidenceRecords(*evidencePath)
		if err != nil {
			log.WithError(err).Error("failed to read evidence file")
			os.Exit(1)
		}
		in.Release.EvidenceRecords = records
		in.Release.EvidenceRegistry = evidence.NewDefaultRegistry()
	}

	if *execute {
		caller := *callerHash
		if caller == "" {
			caller = *expectedDigest
		}
		in.ExecutionRequested = true
		in.Evaluator = compartment.DeclEvaluator{}
		in.EntryExportName = *entry
		in.CallerBlockHash = caller
		in.Kernel = kernelParams(cfg, kernel.Tier(*tier), splitList(*grants))
		in.CapImpl = storageCapImpl(artifactStore)
	}

	result := loader.Run(in)

	if cfg.Store.IncidentLogPath != "" && result.IncidentLatest != nil {
		sink, err := incidentlog.Open(cfg.Store.IncidentLogPath)
		if err != nil {
			log.WithError(err).Warn("failed to open incident log")
		} else {
			defer sink.Close()
			if err := sink.Record(context.Background(), *result.IncidentLatest); err != nil {
				log.WithError(err).Warn("failed to record incident")
			}
		}
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.WithError(err).Error("failed to marshal result")
		os.Exit(1)
	}
	fmt.Println(string(out))

	if result.Verdict != "ALLOW" {
		os.Exit(2)
	}
}

// kernelParams builds the capability kernel's construction parameters
// from the process configuration: the known-capability universe and
// disabled set come from config, the grants from the operator (standing
// in for a plan's grant list). Session fields (mode, plan digest,
// nonce, caller) are filled by the loader when the compartment spawns.
func kernelParams(cfg *config.Config, tier kernel.Tier, grants []string) *kernel.Params {
	consentRequired := make(map[string]bool, len(cfg.Kernel.ConsentRequiredCapabilities))
	for _, c := range cfg.Kernel.ConsentRequiredCapabilities {
		consentRequired[c] = true
	}

	known := make(map[string]kernel.CapRequirement, len(cfg.Kernel.KnownCapabilities))
	for _, c := range cfg.Kernel.KnownCapabilities {
		known[c] = kernel.CapRequirement{
			RequiredTier:    kernel.TierT0,
			RequiresConsent: consentRequired[c],
		}
	}

	disabled := make(map[string]bool, len(cfg.Kernel.DisabledCapabilities))
	for _, c := range cfg.Kernel.DisabledCapabilities {
		disabled[c] = true
	}

	granted := make(map[string]bool, len(grants))
	for _, c := range grants {
		granted[c] = true
	}

	return &kernel.Params{
		RuntimeTier:  tier,
		KnownCaps:    known,
		DisabledCaps: disabled,
		GrantedCaps:  granted,
	}
}

// storageCapImpl backs the storage capabilities with the artifact store;
// net.fetch has no backend in this process, so an allowed call against
// it resolves to an empty value.
func storageCapImpl(s *store.Store) loader.CapImpl {
	read := func(args map[string]any) (map[string]any, []trust.Reason) {
		digest, _ := args["digest"].(string)
		if s == nil {
			return nil, []trust.Reason{{Code: "ARTIFACT_MISSING", Subject: digest}}
		}
		res := s.Read(digest)
		if !res.OK {
			return nil, res.Reasons
		}
		return map[string]any{"payload": string(res.Value)}, res.Reasons
	}
	write := func(args map[string]any) (map[string]any, []trust.Reason) {
		digest, _ := args["digest"].(string)
		payload, _ := args["payload"].(string)
		if s == nil {
			return nil, []trust.Reason{{Code: "ARTIFACT_MISSING", Subject: digest}}
		}
		res := s.Put(digest, []byte(payload))
		if !res.OK {
			return nil, res.Reasons
		}
		return map[string]any{"stored": digest}, nil
	}
	return loader.CapImpl{StorageRead: read, StorageWrite: write}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func loadEvidenceRecords(path string) ([]evidence.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records []evidence.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func loadKeyAllowlist(path string) (release.KeyAllowlist, error) {
	allow := release.KeyAllowlist{}
	if path == "" {
		return allow, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return allow, err
	}
	if err := json.Unmarshal(data, &allow); err != nil {
		return allow, err
	}
	return allow, nil
}

func printHelp() {
	fmt.Println("reach - deterministic trust engine CLI")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  reach <command> [arguments]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  load   Verify a release manifest and artifact, then print the loader result")
	fmt.Println("         --manifest <file>       release manifest JSON (required)")
	fmt.Println("         --artifact <file>       artifact to check against the expected digest")
	fmt.Println("         --expect-digest <digest> expected sha256:<hex> digest of the artifact")
	fmt.Println("         --plan-digest <digest>  expected plan digest")
	fmt.Println("         --mode <mode>           execution mode (default: strict)")
	fmt.Println("         --evidence <file>       JSON array of evidence records to verify")
	fmt.Println("         --execute               run the artifact's entry in a compartment")
	fmt.Println("         --entry <name>          entry export name (default: main)")
	fmt.Println("         --grants <caps>         comma-separated capability grants")
	fmt.Println("         --tier <tier>           runtime trust tier (default: T0)")
	fmt.Println("         --caller-block-hash <h> caller block hash (default: artifact digest)")
	fmt.Println("  help   Show this help message")
}
