package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rari-build/rari-go/internal/config"
	"github.com/rari-build/rari-go/internal/errors"
	"github.com/rari-build/rari-go/pkg/loader"
)

func buildCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Transform component sources into the dist tree",
		Long: `Transpiles every component source (TS/TSX/JSX to JS) into the dist
directory so production servers load pre-transformed modules, locally or
from a configured remote module store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return errors.New("E110").Wrap(err)
			}
			cfg, err := config.Load(cwd)
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = filepath.Join(cfg.Dir(), cfg.Paths.Dist)
			}

			roots := []string{
				filepath.Join(cfg.Dir(), cfg.Paths.Routes),
				filepath.Join(cfg.Dir(), cfg.Paths.Components),
			}

			count := 0
			for _, root := range roots {
				err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
					if walkErr != nil || info.IsDir() || !isComponentSource(path) {
						return nil
					}

					data, err := os.ReadFile(path)
					if err != nil {
						return errors.New("E110").WithDetail(path).Wrap(err)
					}

					out, err := loader.DefaultTranspiler(path, string(data))
					if err != nil {
						return err
					}

					rel, err := filepath.Rel(cfg.Dir(), path)
					if err != nil {
						rel = filepath.Base(path)
					}
					target := filepath.Join(outDir, jsName(rel))
					if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
						return errors.New("E110").WithDetail(target).Wrap(err)
					}
					if err := os.WriteFile(target, []byte(out), 0644); err != nil {
						return errors.New("E110").WithDetail(target).Wrap(err)
					}
					count++
					return nil
				})
				if err != nil {
					return err
				}
			}

			fmt.Printf("built %d components into %s\n", count, outDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default: paths.dist)")
	return cmd
}

// jsName rewrites a source path to its compiled .js name.
func jsName(rel string) string {
	ext := filepath.Ext(rel)
	switch strings.ToLower(ext) {
	case ".tsx", ".ts", ".jsx", ".mjs":
		return strings.TrimSuffix(rel, ext) + ".js"
	default:
		return rel
	}
}
