package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/langchou/mowgazer/internal/api/mower"
	"github.com/langchou/mowgazer/internal/archive"
	"github.com/langchou/mowgazer/internal/config"
	"github.com/langchou/mowgazer/internal/models"
	"github.com/langchou/mowgazer/internal/repository"
	"github.com/langchou/mowgazer/internal/telemetry"
)

var (
	dbPath  string
	verbose bool
	logger  = zap.NewNop()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mowctl",
		Short: "Mowgazer archive tool",
		Long: `Export mower telemetry history into a portable SQLite archive,
load it back into the server database, and run the status and
battery analysis offline against an archive.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !verbose {
				return nil
			}
			l, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "mowgazer_archive.db", "Path to SQLite archive")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(predictCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openDatabase 连接服务端 PostgreSQL 并完成迁移
func openDatabase(ctx context.Context, cfg *config.Config) (*repository.DB, error) {
	db, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// remoteHistory 把后端按序列号的历史接口适配为按设备查询
type remoteHistory struct {
	client *mower.Client
	serial string
}

func (r remoteHistory) FetchBatteryHistory(ctx context.Context, _ int64, from, to time.Time) ([]models.BatterySample, error) {
	return r.client.FetchBatteryHistory(ctx, r.serial, from, to)
}

func (r remoteHistory) FetchGpsHistory(ctx context.Context, _ int64, from, to time.Time) ([]models.GpsSample, error) {
	return r.client.FetchGpsHistory(ctx, r.serial, from, to)
}

func (r remoteHistory) FetchStateRecords(ctx context.Context, _ int64, from, to time.Time) ([]models.StateSample, error) {
	return r.client.FetchStateHistory(ctx, r.serial, from, to)
}

// exportCmd 导出设备历史到归档
func exportCmd() *cobra.Command {
	var (
		serial string
		since  time.Duration
		remote bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a device's history into the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			to := time.Now()
			from := to.Add(-since)

			var (
				src    archive.HistorySource
				device *models.Device
			)
			if remote {
				client := mower.NewClient(cfg.MowerAPIHost, cfg.MowerAPIToken)
				device = &models.Device{Serial: serial}
				devices, err := client.ListDevices(ctx)
				if err != nil {
					return fmt.Errorf("list remote devices: %w", err)
				}
				for _, info := range devices {
					if info.Serial == serial {
						device = info.ToDevice()
						break
					}
				}
				src = remoteHistory{client: client, serial: serial}
			} else {
				db, err := openDatabase(ctx, cfg)
				if err != nil {
					return err
				}
				defer db.Close()

				device, err = repository.NewDeviceRepository(db).GetBySerial(ctx, serial)
				if err != nil {
					return fmt.Errorf("lookup device %s: %w", serial, err)
				}
				src = repository.NewHistoryStore(db)
			}

			a, err := archive.Open(dbPath)
			if err != nil {
				return err
			}
			defer a.Close()

			counts, err := archive.Export(ctx, src, device, from, to, a)
			if err != nil {
				return err
			}
			logger.Debug("Export finished", zap.String("serial", serial), zap.Bool("remote", remote))
			fmt.Printf("Exported %s (%s) to %s\n", device.Serial, counts, dbPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&serial, "serial", "s", "", "Device serial number")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "How far back to export")
	cmd.Flags().BoolVar(&remote, "remote", false, "Read history from the mower backend instead of the local database")
	cmd.MarkFlagRequired("serial")

	return cmd
}

// importCmd 将归档导入服务端数据库
func importCmd() *cobra.Command {
	var serial string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load archived devices and history into the server database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			a, err := archive.Open(dbPath)
			if err != nil {
				return err
			}
			defer a.Close()

			serials := []string{serial}
			if serial == "" {
				devices, err := a.Devices(ctx)
				if err != nil {
					return err
				}
				serials = serials[:0]
				for _, d := range devices {
					serials = append(serials, d.Serial)
				}
			}

			db, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			devices := repository.NewDeviceRepository(db)
			history := repository.NewHistoryStore(db)
			for _, s := range serials {
				device, counts, err := archive.Import(ctx, a, s, devices, history)
				if err != nil {
					return fmt.Errorf("import %s: %w", s, err)
				}
				fmt.Printf("Imported %s as device %d (%s)\n", device.Serial, device.ID, counts)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&serial, "serial", "s", "", "Only import this device")
	return cmd
}

// devicesCmd 列出归档中的设备
func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List devices in the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := archive.Open(dbPath)
			if err != nil {
				return err
			}
			defer a.Close()

			devices, err := a.Devices(cmd.Context())
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("Archive is empty")
				return nil
			}
			fmt.Printf("%-20s %-20s %s\n", "SERIAL", "NAME", "MODEL")
			for _, d := range devices {
				fmt.Printf("%-20s %-20s %s\n", d.Serial, d.Name, d.Model)
			}
			return nil
		},
	}
}

// statusCmd 离线统计状态分布
func statusCmd() *cobra.Command {
	var (
		serial string
		from   string
		to     string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status distribution and timeline of an archived device",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := archive.Open(dbPath)
			if err != nil {
				return err
			}
			defer a.Close()

			states, err := a.FetchStateHistory(ctx, serial, archiveStart, archiveEnd)
			if err != nil {
				return err
			}
			if len(states) == 0 {
				return fmt.Errorf("no state history for %s", serial)
			}

			start, end, err := statusWindow(states, from, to)
			if err != nil {
				return err
			}
			distribution, timeline := telemetry.Aggregate(clipStates(states, start), end)
			printStatusReport(os.Stdout, start, end, distribution, timeline)
			return nil
		},
	}

	cmd.Flags().StringVarP(&serial, "serial", "s", "", "Device serial number")
	cmd.Flags().StringVar(&from, "from", "", "Window start (RFC3339, default first sample)")
	cmd.Flags().StringVar(&to, "to", "", "Window end (RFC3339, default last sample)")
	cmd.MarkFlagRequired("serial")

	return cmd
}

// predictCmd 离线电量预测
func predictCmd() *cobra.Command {
	var serial string

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict time to full/empty from the archived battery samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := archive.Open(dbPath)
			if err != nil {
				return err
			}
			defer a.Close()

			battery, err := a.FetchBatteryHistory(ctx, serial, archiveStart, archiveEnd)
			if err != nil {
				return err
			}
			states, err := a.FetchStateHistory(ctx, serial, archiveStart, archiveEnd)
			if err != nil {
				return err
			}

			fmt.Println(predictionSummary(battery, states))
			return nil
		},
	}

	cmd.Flags().StringVarP(&serial, "serial", "s", "", "Device serial number")
	cmd.MarkFlagRequired("serial")

	return cmd
}
