package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/energyorigin/certificate-worker/internal/db"
)

// Command types accepted on the command queue.
const (
	CommandContractCreate        = "contract.create"
	CommandContractSetEndDate    = "contract.set_end_date"
	CommandOrganizationRemoved   = "organization.removed"
	CommandMeteringPointRemoved  = "meteringpoint.removed"
	CommandMeteringPointRepair   = "meteringpoint.repair"
	CommandSponsorshipRegistered = "sponsorship.registered"
	CommandSponsorshipRemoved    = "sponsorship.removed"
)

// Command is the envelope for commands arriving over the bus.
type Command struct {
	Type           string           `json:"type"`
	Owner          string           `json:"owner,omitempty"`
	GSRN           string           `json:"gsrn,omitempty"`
	ContractNumber int              `json:"contract_number,omitempty"`
	Subject        string           `json:"subject,omitempty"`
	EndDate        *time.Time       `json:"end_date,omitempty"`
	Contract       *ContractPayload `json:"contract,omitempty"`
}

// ContractPayload carries the contract fields of a contract.create command.
type ContractPayload struct {
	GridArea          string               `json:"grid_area"`
	MeteringPointType db.MeteringPointType `json:"metering_point_type"`
	StartDate         time.Time            `json:"start_date"`
	EndDate           *time.Time           `json:"end_date,omitempty"`
	RecipientID       uuid.UUID            `json:"recipient_id"`
	Technology        *db.Technology       `json:"technology,omitempty"`
}

// CommandProcessor dispatches bus commands to contract management,
// sponsorship upkeep, teardown and repair. Failing a message (including
// an unknown type) lands it in the DLQ for inspection.
type CommandProcessor struct {
	contracts     *ContractService
	contractState *ContractState
	store         Store
	logger        *zap.Logger
}

// NewCommandProcessor creates a new command processor.
func NewCommandProcessor(contracts *ContractService, contractState *ContractState, store Store, logger *zap.Logger) *CommandProcessor {
	return &CommandProcessor{
		contracts:     contracts,
		contractState: contractState,
		store:         store,
		logger:        logger,
	}
}

// ProcessMessage handles one raw command message from the queue.
func (p *CommandProcessor) ProcessMessage(ctx context.Context, body []byte) error {
	var cmd Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}

	logger := p.logger.With(zap.String("command", cmd.Type))

	switch cmd.Type {
	case CommandContractCreate:
		if cmd.GSRN == "" || cmd.Owner == "" || cmd.Contract == nil {
			return fmt.Errorf("contract.create command missing gsrn, owner or contract payload")
		}
		contract, err := p.contracts.CreateContract(ctx, CreateContractRequest{
			GSRN:              cmd.GSRN,
			GridArea:          cmd.Contract.GridArea,
			MeteringPointType: cmd.Contract.MeteringPointType,
			Owner:             cmd.Owner,
			StartDate:         cmd.Contract.StartDate,
			EndDate:           cmd.Contract.EndDate,
			RecipientID:       cmd.Contract.RecipientID,
			Technology:        cmd.Contract.Technology,
		})
		if err != nil {
			return err
		}
		logger.Info("contract create command handled",
			zap.String("gsrn", contract.GSRN),
			zap.Int("contract_number", contract.ContractNumber),
		)
		return nil

	case CommandContractSetEndDate:
		if cmd.GSRN == "" || cmd.Subject == "" {
			return fmt.Errorf("contract.set_end_date command missing gsrn or subject")
		}
		return p.contracts.SetEndDate(ctx, cmd.GSRN, cmd.ContractNumber, cmd.Subject, cmd.EndDate, time.Now().UTC())

	case CommandOrganizationRemoved:
		if cmd.Owner == "" {
			return fmt.Errorf("organization.removed command missing owner")
		}
		deleted, err := p.store.DeleteContractsByOwner(ctx, cmd.Owner)
		if err != nil {
			return fmt.Errorf("failed to remove contracts for organization: %w", err)
		}
		logger.Info("organization contracts removed",
			zap.String("owner", cmd.Owner),
			zap.Int64("contracts", deleted),
		)
		return nil

	case CommandMeteringPointRemoved:
		if cmd.GSRN == "" {
			return fmt.Errorf("meteringpoint.removed command missing gsrn")
		}
		return p.contractState.DeleteContractAndSlidingWindow(ctx, cmd.GSRN)

	case CommandMeteringPointRepair:
		if cmd.GSRN == "" {
			return fmt.Errorf("meteringpoint.repair command missing gsrn")
		}
		repaired, err := p.contractState.RepairMeteringPoint(ctx, cmd.GSRN)
		if err != nil {
			return err
		}
		logger.Info("repair command handled",
			zap.String("gsrn", cmd.GSRN),
			zap.Bool("repaired", repaired),
		)
		return nil

	case CommandSponsorshipRegistered:
		if cmd.GSRN == "" || cmd.EndDate == nil {
			return fmt.Errorf("sponsorship.registered command missing gsrn or end_date")
		}
		if err := p.store.UpsertSponsorship(ctx, &db.Sponsorship{
			GSRN:               cmd.GSRN,
			SponsorshipEndDate: *cmd.EndDate,
		}); err != nil {
			return err
		}
		logger.Info("sponsorship registered",
			zap.String("gsrn", cmd.GSRN),
			zap.Time("end_date", *cmd.EndDate),
		)
		return nil

	case CommandSponsorshipRemoved:
		if cmd.GSRN == "" {
			return fmt.Errorf("sponsorship.removed command missing gsrn")
		}
		if err := p.store.DeleteSponsorship(ctx, cmd.GSRN); err != nil {
			return err
		}
		logger.Info("sponsorship removed", zap.String("gsrn", cmd.GSRN))
		return nil

	default:
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
}
