// Command pgdocsh is an interactive shell over one workspace of the document
// store: run DSL queries, load documents by id and stream sync digests.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	pgdoc "github.com/hcengineering/platform-sub001"
	"github.com/hcengineering/platform-sub001/hierarchy"
	"github.com/hcengineering/platform-sub001/internal/config"
	"github.com/hcengineering/platform-sub001/internal/logger"
	"github.com/hcengineering/platform-sub001/types"
)

type shellConfig struct {
	DB struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"db"`
	Workspace string        `mapstructure:"workspace"`
	Model     string        `mapstructure:"model"`
	Log       logger.Config `mapstructure:"log"`
}

var commands = []string{"find", "load", "sync", "classes", "help", "quit"}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var cfg shellConfig
	if err := config.Load("PGDOC_", &cfg); err != nil {
		return err
	}
	cfg.Log.Format = "text"
	logger.Init(cfg.Log)

	modelPath := cfg.Model
	if modelPath == "" {
		modelPath = "model.json"
	}
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return fmt.Errorf("failed to read model file: %w", err)
	}
	var defs []hierarchy.ClassDef
	if err := json.Unmarshal(data, &defs); err != nil {
		return fmt.Errorf("failed to parse model file: %w", err)
	}
	h, err := hierarchy.New(defs)
	if err != nil {
		return err
	}

	ctx := context.Background()
	adapter, err := pgdoc.Open(ctx, pgdoc.Options{
		DSN:       cfg.DB.DSN,
		Workspace: types.WorkspaceID(cfg.Workspace),
		Hierarchy: h,
	})
	if err != nil {
		return err
	}
	defer adapter.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(l string) (c []string) {
		for _, cmd := range commands {
			if strings.HasPrefix(cmd, strings.ToLower(l)) {
				c = append(c, cmd)
			}
		}
		return
	})

	historyPath := filepath.Join(os.TempDir(), ".pgdocsh_history")
	if f, err := os.Open(historyPath); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Printf("connected to workspace %q, type help for commands\n", cfg.Workspace)
	for {
		input, err := line.Prompt("pgdoc> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if input == "quit" || input == "exit" {
			return nil
		}
		if err := eval(ctx, adapter, input); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func eval(ctx context.Context, adapter *pgdoc.Adapter, input string) error {
	parts := strings.SplitN(input, " ", 3)
	switch parts[0] {
	case "help":
		fmt.Println("find <class> [filter-json]   run a query")
		fmt.Println("load <domain> <id[,id...]>   fetch documents by id")
		fmt.Println("sync <domain>                stream content digests")
		fmt.Println("classes <domain>             list distinct stored classes")
		fmt.Println("quit                         leave")
		return nil
	case "find":
		if len(parts) < 2 {
			return fmt.Errorf("usage: find <class> [filter-json]")
		}
		filter := types.Filter{}
		if len(parts) == 3 {
			if err := json.Unmarshal([]byte(parts[2]), &filter); err != nil {
				return fmt.Errorf("failed to parse filter: %w", err)
			}
		}
		res, err := adapter.FindAll(ctx, types.ClassID(parts[1]), filter, types.FindOptions{Limit: 20})
		if err != nil {
			return err
		}
		for _, doc := range res.Docs {
			printJSON(doc)
		}
		fmt.Printf("%d documents\n", len(res.Docs))
		return nil
	case "load":
		if len(parts) < 3 {
			return fmt.Errorf("usage: load <domain> <id[,id...]>")
		}
		var ids []types.Ref
		for _, id := range strings.Split(parts[2], ",") {
			ids = append(ids, types.Ref(strings.TrimSpace(id)))
		}
		docs, err := adapter.Load(ctx, types.Domain(parts[1]), ids)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			printJSON(doc)
		}
		return nil
	case "sync":
		if len(parts) < 2 {
			return fmt.Errorf("usage: sync <domain>")
		}
		it, err := adapter.Sync(ctx, types.Domain(parts[1]), false)
		if err != nil {
			return err
		}
		defer it.Close(ctx)
		count := 0
		for it.Next(ctx) {
			printJSON(it.Value())
			count++
		}
		if err := it.Err(); err != nil {
			return err
		}
		fmt.Printf("%d documents\n", count)
		return it.Close(ctx)
	case "classes":
		if len(parts) < 2 {
			return fmt.Errorf("usage: classes <domain>")
		}
		classes, err := adapter.GroupBy(ctx, types.Domain(parts[1]), "_class")
		if err != nil {
			return err
		}
		for _, c := range classes {
			fmt.Println(c)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q, type help", parts[0])
	}
}

func printJSON(v any) {
	out, err := json.Marshal(v)
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(out))
}
