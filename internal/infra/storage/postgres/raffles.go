package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Illiquidly/marketwatch/internal/raffles"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RaffleStore implements raffles.Storage.
type RaffleStore struct {
	pool *pgxpool.Pool
}

var _ raffles.Storage = (*RaffleStore)(nil)

// NewRaffleStore creates a raffle store backed by the given connection pool.
func NewRaffleStore(pool *pgxpool.Pool) *RaffleStore {
	return &RaffleStore{pool: pool}
}

func (s *RaffleStore) GetRaffle(ctx context.Context, network string, raffleID uint64) (raffles.Raffle, error) {
	const query = `
		SELECT network, raffle_id, owner_address, state, associated_assets,
		       raffle_options, winner, number_of_tickets, tickets_seen,
		       created_at, updated_at
		FROM raffles
		WHERE network = $1 AND raffle_id = $2`

	var (
		raffle        raffles.Raffle
		rowID         int64
		tickets, seen int64
	)
	err := s.pool.QueryRow(ctx, query, network, int64(raffleID)).Scan(
		&raffle.Network, &rowID, &raffle.Owner, &raffle.State, &raffle.AssociatedAssets,
		&raffle.RaffleOptions, &raffle.Winner, &tickets, &seen,
		&raffle.CreatedAt, &raffle.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return raffles.Raffle{}, raffles.ErrNotCached
		}
		return raffles.Raffle{}, fmt.Errorf("postgres: get raffle %d: %w", raffleID, err)
	}

	raffle.RaffleID = uint64(rowID)
	raffle.NumberOfTickets = uint64(tickets)
	raffle.TicketsSeen = uint64(seen)
	return raffle, nil
}

// UpsertRaffle writes the raffle row and its changed participant rows in one
// transaction. The raffle's tickets_seen offset accounts for the participant
// counts, so a torn write would make the next reconciliation re-merge the
// same tickets.
func (s *RaffleStore) UpsertRaffle(ctx context.Context, raffle raffles.Raffle, participants []raffles.Participant) error {
	const raffleQuery = `
		INSERT INTO raffles (
			network, raffle_id, owner_address, state, associated_assets,
			raffle_options, winner, number_of_tickets, tickets_seen,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (network, raffle_id) DO UPDATE SET
			owner_address     = EXCLUDED.owner_address,
			state             = EXCLUDED.state,
			associated_assets = EXCLUDED.associated_assets,
			raffle_options    = EXCLUDED.raffle_options,
			winner            = EXCLUDED.winner,
			number_of_tickets = EXCLUDED.number_of_tickets,
			tickets_seen      = EXCLUDED.tickets_seen,
			updated_at        = EXCLUDED.updated_at`

	const participantQuery = `
		INSERT INTO raffle_participants (
			network, raffle_id, user_address, ticket_number, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (network, raffle_id, user_address) DO UPDATE SET
			ticket_number = EXCLUDED.ticket_number,
			updated_at    = EXCLUDED.updated_at`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: upsert raffle %d: begin: %w", raffle.RaffleID, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, raffleQuery,
		raffle.Network, int64(raffle.RaffleID), raffle.Owner, raffle.State, raffle.AssociatedAssets,
		raffle.RaffleOptions, raffle.Winner, int64(raffle.NumberOfTickets), int64(raffle.TicketsSeen),
		raffle.CreatedAt, raffle.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert raffle %d: %w", raffle.RaffleID, err)
	}

	if len(participants) > 0 {
		batch := &pgx.Batch{}
		for _, participant := range participants {
			batch.Queue(participantQuery,
				participant.Network, int64(participant.RaffleID), participant.User,
				int64(participant.TicketNumber), participant.CreatedAt, participant.UpdatedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: upsert participants %d: %w", raffle.RaffleID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: upsert raffle %d: commit: %w", raffle.RaffleID, err)
	}
	return nil
}

func (s *RaffleStore) ListParticipants(ctx context.Context, network string, raffleID uint64) ([]raffles.Participant, error) {
	const query = `
		SELECT network, raffle_id, user_address, ticket_number, created_at, updated_at
		FROM raffle_participants
		WHERE network = $1 AND raffle_id = $2
		ORDER BY user_address`

	rows, err := s.pool.Query(ctx, query, network, int64(raffleID))
	if err != nil {
		return nil, fmt.Errorf("postgres: list participants %d: %w", raffleID, err)
	}
	defer rows.Close()

	var participants []raffles.Participant
	for rows.Next() {
		var (
			participant    raffles.Participant
			rowID, tickets int64
		)
		if err := rows.Scan(
			&participant.Network, &rowID, &participant.User, &tickets,
			&participant.CreatedAt, &participant.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan participant: %w", err)
		}
		participant.RaffleID = uint64(rowID)
		participant.TicketNumber = uint64(tickets)
		participants = append(participants, participant)
	}
	return participants, rows.Err()
}
