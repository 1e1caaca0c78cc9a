package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List stored documents",
		Args:  cobra.NoArgs,
		RunE:  runLs,
	}
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Print a stored document",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}

	cmd.Flags().Bool("yaml", false, "print the document as YAML")

	return cmd
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <name> <file|->",
		Short: "Store a JSON document, replacing any previous content",
		Args:  cobra.ExactArgs(2),
		RunE:  runPut,
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a stored document",
		Args:  cobra.ExactArgs(1),
		RunE:  runRm,
	}
}

func runLs(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	app, docs, err := openDocuments(ctx, cc)
	if err != nil {
		return err
	}
	defer app.Close()

	entries, err := docs.List(ctx)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, entries)
	}

	if len(entries) == 0 {
		cc.Statusf("No documents.\n")
		return nil
	}

	printEntriesTable(cc.Out, entries, time.Now())

	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	asYAML, _ := cmd.Flags().GetBool("yaml")

	app, docs, err := openDocuments(ctx, cc)
	if err != nil {
		return err
	}
	defer app.Close()

	doc, found, err := docs.Load(ctx, args[0])
	if err != nil {
		return err
	}

	if !found {
		return fmt.Errorf("document %q not found", args[0])
	}

	if asYAML {
		return printYAML(cc.Out, doc)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return fmt.Errorf("formatting document: %w", err)
	}

	buf.WriteByte('\n')

	_, err = buf.WriteTo(cc.Out)

	return err
}

func runPut(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	raw, err := readDocument(args[1], cmd.InOrStdin())
	if err != nil {
		return err
	}

	app, docs, err := openDocuments(ctx, cc)
	if err != nil {
		return err
	}
	defer app.Close()

	entry, err := docs.Save(ctx, args[0], raw)
	if err != nil {
		return err
	}

	cc.Logger.Debug("put complete", slog.String("name", entry.Name), slog.String("id", entry.ID))
	cc.Statusf("Saved %s\n", entry.Name)

	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	app, docs, err := openDocuments(ctx, cc)
	if err != nil {
		return err
	}
	defer app.Close()

	deleted, err := docs.Delete(ctx, args[0])
	if err != nil {
		return err
	}

	if !deleted {
		return fmt.Errorf("document %q not found", args[0])
	}

	cc.Statusf("Deleted %s\n", args[0])

	return nil
}

// readDocument reads a JSON document from path, or from stdin when path is
// "-". The content must be valid JSON.
func readDocument(path string, stdin io.Reader) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)

	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}

	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("%s does not contain valid JSON", path)
	}

	return json.RawMessage(data), nil
}
