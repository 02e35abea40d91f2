package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/inference"
	"github.com/spf13/cobra"
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "Manage registered identities",
}

var identitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered identities",
	Args:  cobra.NoArgs,
	RunE:  runIdentitiesList,
}

var identitiesAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a new identity",
	Long: `Register a new identity from a photo or a raw embedding.

With --image the largest face in the photo is detected, aligned and embedded
by the inference server. With --embedding the comma-separated vector is
stored directly.`,
	Example: `  face-attendance identities add "Alice" --image alice.jpg
  face-attendance identities add "Bob" --embedding 0.12,-0.03,...`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentitiesAdd,
}

var identitiesDeleteCmd = &cobra.Command{
	Use:   "delete <label>",
	Short: "Delete an identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentitiesDelete,
}

var identitiesRenameCmd = &cobra.Command{
	Use:   "rename <label> <new-name>",
	Short: "Rename an identity without changing its embedding",
	Args:  cobra.ExactArgs(2),
	RunE:  runIdentitiesRename,
}

var identitiesSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Find the identity closest to a photo or embedding",
	Args:  cobra.NoArgs,
	RunE:  runIdentitiesSearch,
}

func init() {
	rootCmd.AddCommand(identitiesCmd)
	identitiesCmd.AddCommand(identitiesListCmd, identitiesAddCmd, identitiesDeleteCmd, identitiesRenameCmd, identitiesSearchCmd)

	identitiesListCmd.Flags().Bool("json", false, "Output as JSON")
	identitiesListCmd.Flags().String("name", "", "Only list identities whose normalized name matches")

	for _, c := range []*cobra.Command{identitiesAddCmd, identitiesSearchCmd} {
		c.Flags().String("image", "", "Photo containing the face")
		c.Flags().String("embedding", "", "Comma-separated embedding vector")
		c.MarkFlagsMutuallyExclusive("image", "embedding")
	}

	identitiesSearchCmd.Flags().Float64("threshold", 0, "Similarity threshold (default MATCH_THRESHOLD)")
	identitiesSearchCmd.Flags().Bool("json", false, "Output as JSON")
}

// openIdentities loads the config and the identity index for a CLI command.
func openIdentities(ctx context.Context) (*config.Config, *database.IdentityIndex, *resources, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	res := newResources(cfg)
	index, err := res.openIndex(ctx)
	if err != nil {
		res.Close()
		return nil, nil, nil, fmt.Errorf("failed to open identity index: %w", err)
	}
	return cfg, index, res, nil
}

// embeddingFromFlags reads the --image or --embedding flag.
func embeddingFromFlags(ctx context.Context, cmd *cobra.Command, cfg *config.Config) ([]float32, error) {
	if raw := mustGetString(cmd, "embedding"); raw != "" {
		return parseEmbedding(raw)
	}

	path := mustGetString(cmd, "image")
	if path == "" {
		return nil, errNoEmbeddingSource
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is a CLI argument
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, err := inference.DecodeImage(data)
	if err != nil {
		return nil, err
	}

	embedding, err := newEnroller(newInferenceClient(cfg)).Embed(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %s: %w", path, err)
	}
	return embedding, nil
}

func runIdentitiesList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, index, res, err := openIdentities(ctx)
	if err != nil {
		return err
	}
	defer res.Close()

	identities := index.List()
	if name := mustGetString(cmd, "name"); name != "" {
		identities = index.FindByName(name)
	}

	if mustGetBool(cmd, "json") {
		out := make([]database.Identity, 0, len(identities))
		for _, id := range identities {
			id.Embedding = nil
			out = append(out, id)
		}
		return outputJSON(out)
	}

	if len(identities) == 0 {
		fmt.Println("No identities registered")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LABEL\tNAME")
	fmt.Fprintln(w, "-----\t----")
	for _, id := range identities {
		fmt.Fprintf(w, "%d\t%s\n", id.Label, id.Name)
	}
	w.Flush()
	fmt.Printf("\n%d identities\n", len(identities))
	return nil
}

func runIdentitiesAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, index, res, err := openIdentities(ctx)
	if err != nil {
		return err
	}
	defer res.Close()

	embedding, err := embeddingFromFlags(ctx, cmd, cfg)
	if err != nil {
		return err
	}

	name := args[0]
	if existing := index.FindByName(name); len(existing) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %d identities named %q already exist\n", len(existing), name)
	}

	label, err := index.Insert(name, embedding)
	if err != nil {
		return fmt.Errorf("failed to register %q: %w", name, err)
	}
	if err := index.Save(ctx); err != nil {
		return fmt.Errorf("failed to save identities: %w", err)
	}

	fmt.Printf("Registered %q as label %d\n", name, label)
	return nil
}

func runIdentitiesDelete(cmd *cobra.Command, args []string) error {
	label, err := parseLabel(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	_, index, res, err := openIdentities(ctx)
	if err != nil {
		return err
	}
	defer res.Close()

	id, found := index.Get(label)
	if !found || !index.Delete(label) {
		return fmt.Errorf("identity %d not found", label)
	}
	if err := index.Save(ctx); err != nil {
		return fmt.Errorf("failed to save identities: %w", err)
	}

	fmt.Printf("Deleted %q (label %d)\n", id.Name, label)
	return nil
}

func runIdentitiesRename(cmd *cobra.Command, args []string) error {
	label, err := parseLabel(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	_, index, res, err := openIdentities(ctx)
	if err != nil {
		return err
	}
	defer res.Close()

	old, found := index.Get(label)
	if !found {
		return fmt.Errorf("identity %d not found", label)
	}
	if !index.Rename(label, args[1]) {
		return fmt.Errorf("%w: %q", database.ErrInvalidName, args[1])
	}
	if err := index.Save(ctx); err != nil {
		return fmt.Errorf("failed to save identities: %w", err)
	}

	fmt.Printf("Renamed label %d: %q -> %q\n", label, old.Name, args[1])
	return nil
}

func runIdentitiesSearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, index, res, err := openIdentities(ctx)
	if err != nil {
		return err
	}
	defer res.Close()

	embedding, err := embeddingFromFlags(ctx, cmd, cfg)
	if err != nil {
		return err
	}

	threshold := index.Threshold()
	if cmd.Flags().Changed("threshold") {
		threshold = mustGetFloat64(cmd, "threshold")
	}

	result, err := index.Search(embedding, threshold)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(result)
	}
	if !result.Found {
		fmt.Printf("%s (best similarity %.4f, threshold %.2f)\n", database.UnknownName, result.Similarity, threshold)
		return nil
	}
	fmt.Printf("%s (label %d, similarity %.4f)\n", result.Name, result.Label, result.Similarity)
	return nil
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
