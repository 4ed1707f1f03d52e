package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ashureev/zapito/internal/domain"
)

// staffFile is the seed document accepted by "staff seed".
type staffFile struct {
	Sellers []domain.Staff `yaml:"sellers"`
	Support []domain.Staff `yaml:"support"`
}

var staffCmd = &cobra.Command{
	Use:   "staff",
	Short: "Manage the seller and support pools",
}

var staffSeedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Create or update staff records from a YAML file",
	Long: `Create or update staff records from a YAML file.

Records are matched by name (and sector for support agents). Existing
assignment counters are kept.

  sellers:
    - name: Ana
      link: https://wa.me/5511999990001
  support:
    - name: Bruno
      sector: Mercado Livre
      link: https://wa.me/5511999990002`,
	Args: cobra.ExactArgs(1),
	RunE: runStaffSeed,
}

var staffListCmd = &cobra.Command{
	Use:   "list [seller|support]",
	Short: "List staff in rotation order",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStaffList,
}

func init() {
	staffCmd.AddCommand(staffSeedCmd, staffListCmd)
}

func loadStaffFile(path string) ([]*domain.Staff, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var doc staffFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	var out []*domain.Staff
	for i := range doc.Sellers {
		s := doc.Sellers[i]
		s.Kind = domain.StaffSeller
		out = append(out, &s)
	}
	for i := range doc.Support {
		s := doc.Support[i]
		s.Kind = domain.StaffSupport
		out = append(out, &s)
	}

	for _, s := range out {
		if s.Name == "" || s.Link == "" {
			return nil, fmt.Errorf("%s entry %q: name and link are required", s.Kind, s.Name)
		}
		if s.Kind == domain.StaffSupport && s.Sector == "" {
			return nil, fmt.Errorf("support entry %q: sector is required", s.Name)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("seed file has no sellers or support entries")
	}
	return out, nil
}

func runStaffSeed(cmd *cobra.Command, args []string) error {
	records, err := loadStaffFile(args[0])
	if err != nil {
		return err
	}

	repo, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(repo)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	for _, s := range records {
		if err := repo.UpsertStaff(ctx, s); err != nil {
			return err
		}
		logger.Debug("staff upserted", "kind", s.Kind, "name", s.Name, "id", s.ID)
	}

	green := color.New(color.FgGreen)
	green.Fprintf(cmd.OutOrStdout(), "Seeded %d staff records\n", len(records))
	return nil
}

func runStaffList(cmd *cobra.Command, args []string) error {
	kinds := []domain.StaffKind{domain.StaffSeller, domain.StaffSupport}
	if len(args) == 1 {
		switch k := domain.StaffKind(args[0]); k {
		case domain.StaffSeller, domain.StaffSupport:
			kinds = []domain.StaffKind{k}
		default:
			return fmt.Errorf("unknown pool %q (want seller or support)", args[0])
		}
	}

	repo, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore(repo)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	out := cmd.OutOrStdout()
	for _, kind := range kinds {
		staff, err := repo.ListStaff(ctx, kind)
		if err != nil {
			return err
		}
		printStaff(out, kind, staff)
	}
	return nil
}

func printStaff(out io.Writer, kind domain.StaffKind, staff []*domain.Staff) {
	yellow := color.New(color.FgYellow)
	yellow.Fprintf(out, "%s (%d)\n", kind, len(staff))

	if len(staff) == 0 {
		fmt.Fprintln(out, "  (none)")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tSECTOR\tASSIGNMENTS\tLINK")
	for _, s := range staff {
		sector := s.Sector
		if sector == "" {
			sector = "-"
		}
		fmt.Fprintf(w, "  %d\t%s\t%s\t%d\t%s\n", s.ID, s.Name, sector, s.Assignments, s.Link)
	}
	_ = w.Flush()
}
