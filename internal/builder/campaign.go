package builder

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tonimelisma/bulkmutate/internal/remote"
	"github.com/tonimelisma/bulkmutate/internal/table"
)

// CAMPAIGNMIGRATION column names.
const (
	colClientAccountID      = "client_account_id"
	colCampaignID           = "campaignid"
	colChannelType          = "channel_type"
	colGoogleSearch         = "google_search"
	colSearchNetwork        = "search_network"
	colContentNetwork       = "content_network"
	colPartnerSearchNetwork = "partner_search_network"
	colDisplaySelect        = "display_select"
)

var campaignColumns = []string{
	colClientAccountID,
	colCampaignID,
	colChannelType,
	colGoogleSearch,
	colSearchNetwork,
	colContentNetwork,
	colPartnerSearchNetwork,
	colDisplaySelect,
}

// networkColumns map to boolean network targeting fields, in output order.
var networkColumns = []string{
	colGoogleSearch,
	colSearchNetwork,
	colContentNetwork,
	colPartnerSearchNetwork,
}

// channelTypes are the accepted advertising channel types.
var channelTypes = map[string]bool{
	"SEARCH":   true,
	"DISPLAY":  true,
	"SHOPPING": true,
	"VIDEO":    true,
}

// CampaignMigration updates one campaign per row: its advertising channel
// type, network targeting flags and, when given, display select.
type CampaignMigration struct {
	base
	sessions *remote.Sessions
	cols     map[string]int
}

// NewCampaignMigration returns a CAMPAIGNMIGRATION builder.
func NewCampaignMigration(deps Deps) *CampaignMigration {
	return &CampaignMigration{base: newBase(deps), sessions: deps.Sessions}
}

func (b *CampaignMigration) Name() string { return TagCampaignMigration }

func (b *CampaignMigration) Configure(h table.Header) error {
	cols, err := h.Resolve(campaignColumns...)
	if err != nil {
		return err
	}

	b.cols = cols

	return nil
}

func (b *CampaignMigration) IDColumns() int { return 1 }

func (b *CampaignMigration) OpsPerLine() int { return 1 }

func (b *CampaignMigration) field(row table.Row, col string) string {
	return strings.TrimSpace(row.Field(b.cols[col]))
}

func (b *CampaignMigration) Validate(row table.Row) error {
	for _, col := range []string{colClientAccountID, colCampaignID} {
		v := b.field(row, col)
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			return numericError(row.Line, col, v)
		}
	}

	return nil
}

func (b *CampaignMigration) Build(_ context.Context, row table.Row) (int, error) {
	campaignID := b.field(row, colCampaignID)

	channel := strings.ToUpper(b.field(row, colChannelType))
	if !channelTypes[channel] {
		return 0, &BuildError{
			Line:    row.Line,
			Summary: fmt.Sprintf("For line#%d could not migrate the campaign '%s'.", row.Line, campaignID),
			Err:     fmt.Errorf("unknown channel type %q", b.field(row, colChannelType)),
		}
	}

	fields := map[string]string{colChannelType: channel}

	for _, col := range networkColumns {
		fields[col] = strconv.FormatBool(strings.EqualFold(b.field(row, col), "true"))
	}

	switch ds := b.field(row, colDisplaySelect); {
	case strings.EqualFold(ds, "true"):
		fields[colDisplaySelect] = "true"
	case strings.EqualFold(ds, "false"):
		fields[colDisplaySelect] = "false"
	}

	return b.pending.Append(row.Line, remote.Operation{
		Operator: remote.OpSet,
		Entity:   remote.EntityCampaign,
		ID:       campaignID,
		Fields:   fields,
	}), nil
}

func (b *CampaignMigration) Submit(ctx context.Context, key table.TargetKey, ops []remote.Operation) (*remote.BatchResult, error) {
	svc, err := account(ctx, b.sessions, key)
	if err != nil {
		return nil, err
	}

	return svc.Mutate(ctx, ops)
}

func (b *CampaignMigration) Describe(op remote.Operation, result remote.Entity) string {
	id := result.ID
	if id == "" {
		id = op.ID
	}

	return fmt.Sprintf("Campaign with id '%s' and name '%s' was migrated.", id, result.Name)
}
