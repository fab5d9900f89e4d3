// Command nexus-poolctl manages a local pool of worker processes for a
// nexus-hub instance: init, add, remove, status, scale, stop-all, and a
// serve mode exposing the same operations over HTTP. Grounded on the
// Python prototype's worker_manager.py CLI (argparse subcommands
// init/add/remove/status/scale/stop-all/serve) and cmd/nexus's
// cobra command-tree style.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nexushub/toolhub/internal/workerpool"
)

const defaultDir = "."

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		dir       string
		workerBin string
	)

	root := &cobra.Command{
		Use:   "nexus-poolctl",
		Short: "Manage a local pool of nexus worker processes",
	}
	root.PersistentFlags().StringVar(&dir, "dir", defaultDir, "pool state directory (worker_pool.json, logs/)")
	root.PersistentFlags().StringVar(&workerBin, "worker-bin", "nexus-worker", "worker executable to spawn")

	openManager := func() (*workerpool.Manager, error) {
		return workerpool.NewManager(dir, workerBin, slog.Default())
	}

	root.AddCommand(buildInitCmd(openManager))
	root.AddCommand(buildAddCmd(openManager))
	root.AddCommand(buildRemoveCmd(openManager))
	root.AddCommand(buildStatusCmd(openManager))
	root.AddCommand(buildScaleCmd(openManager))
	root.AddCommand(buildStopAllCmd(openManager))
	root.AddCommand(buildServeCmd(openManager))
	return root
}

func buildInitCmd(open func() (*workerpool.Manager, error)) *cobra.Command {
	var hubURL string
	var basePort int

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Configure the hub URL and base port new workers use",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			return m.SetConfig(hubURL, basePort)
		},
	}
	cmd.Flags().StringVar(&hubURL, "hub-url", "", "worker websocket URL to connect to (required)")
	_ = cmd.MarkFlagRequired("hub-url")
	cmd.Flags().IntVar(&basePort, "base-port", 9601, "lowest port to probe when assigning worker health ports")
	return cmd
}

func buildAddCmd(open func() (*workerpool.Manager, error)) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Spawn one or more worker processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			for i := 0; i < count; i++ {
				w, err := m.AddWorker()
				if err != nil {
					return err
				}
				fmt.Printf("added %s on port %d (pid %d)\n", w.ID, w.Port, w.PID)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 1, "number of workers to add")
	return cmd
}

func buildRemoveCmd(open func() (*workerpool.Manager, error)) *cobra.Command {
	var id string
	var count int
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a worker by id, or the N most recently added workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			if id != "" {
				ok, err := m.RemoveWorker(id)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("worker %q not found", id)
				}
				return nil
			}
			workers := m.Workers()
			n := count
			if n > len(workers) {
				n = len(workers)
			}
			for i := 0; i < n; i++ {
				target := workers[len(workers)-1-i]
				if _, err := m.RemoveWorker(target.ID); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "worker id to remove")
	cmd.Flags().IntVar(&count, "count", 1, "number of workers to remove from the tail, if --id is unset")
	return cmd
}

func buildStatusCmd(open func() (*workerpool.Manager, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report liveness of every tracked worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			statuses := m.GetAllStatus(cmd.Context())
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(statuses)
		},
	}
}

func buildScaleCmd(open func() (*workerpool.Manager, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "scale <target>",
		Short: "Scale the pool to exactly <target> workers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid target %q: %w", args[0], err)
			}
			m, err := open()
			if err != nil {
				return err
			}
			result, err := m.ScaleTo(target)
			if err != nil {
				return err
			}
			fmt.Printf("added=%d removed=%d total=%d\n", result.Added, result.Removed, result.Total)
			return nil
		},
	}
}

func buildStopAllCmd(open func() (*workerpool.Manager, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-all",
		Short: "Stop and untrack every worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			count, err := m.RemoveAll()
			if err != nil {
				return err
			}
			fmt.Printf("stopped %d worker(s)\n", count)
			return nil
		},
	}
}

func buildServeCmd(open func() (*workerpool.Manager, error)) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the pool manager's operations over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := open()
			if err != nil {
				return err
			}
			return serveHTTP(cmd.Context(), m, port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 8090, "HTTP listen port")
	return cmd
}

// serveHTTP mounts the pool manager's REST surface, matching
// worker_manager.py's create_app route table
// (/api/config, /api/workers, /api/workers/{id}, /api/scale).
func serveHTTP(ctx context.Context, m *workerpool.Manager, port int) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/config", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			hubURL, basePort := m.Config()
			writeJSON(w, http.StatusOK, map[string]any{"hub_url": hubURL, "base_port": basePort})
		case http.MethodPost:
			var body struct {
				HubURL   string `json:"hub_url"`
				BasePort int    `json:"base_port"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
				return
			}
			if err := m.SetConfig(body.HubURL, body.BasePort); err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/workers", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, m.GetAllStatus(r.Context()))
		case http.MethodPost:
			worker, err := m.AddWorker()
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusCreated, worker)
		case http.MethodDelete:
			count, err := m.RemoveAll()
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]int{"removed": count})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/api/workers/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/workers/")
		ok, err := m.RemoveWorker(id)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if !ok {
			http.Error(w, "worker not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/api/scale", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Target int `json:"target"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		result, err := m.ScaleTo(body.Target)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	fmt.Printf("nexus-poolctl serving on :%d\n", port)
	return server.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
