package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/Masterminds/squirrel"
	"github.com/crabzie/factory-runtime/internal/core/domain"
	"github.com/crabzie/factory-runtime/internal/core/port"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type resourceRepository struct {
	db  *pgxpool.Pool
	qb  squirrel.StatementBuilderType
	log *zap.Logger
}

// NewResourceRepository creates a ResourceStore backed by the factory tables.
// Every Save replaces the whole table inside one transaction.
func NewResourceRepository(db *pgxpool.Pool, log *zap.Logger) port.ResourceStore {
	return &resourceRepository{
		db:  db,
		qb:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		log: log,
	}
}

// execer is satisfied by both the pool and a transaction
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *resourceRepository) exec(ctx context.Context, q execer, b squirrel.Sqlizer) (int64, error) {
	sql, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *resourceRepository) query(ctx context.Context, q execer, b squirrel.SelectBuilder) (pgx.Rows, error) {
	sql, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return q.Query(ctx, sql, args...)
}

func (r *resourceRepository) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	if err := pgx.BeginFunc(ctx, r.db, fn); err != nil {
		if _, rejected := domain.AsReservationError(err); !rejected {
			r.log.Error("Transaction failed", zap.String("op", op), zap.Error(err))
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *resourceRepository) LoadMachineStates(ctx context.Context) (map[string]domain.MachineState, error) {
	rows, err := r.query(ctx, r.db, r.qb.Select("name", "state").From("machines"))
	if err != nil {
		return nil, fmt.Errorf("load machines: %w", err)
	}
	defer rows.Close()

	states := make(map[string]domain.MachineState)
	for rows.Next() {
		var (
			name string
			code int
		)
		if err := rows.Scan(&name, &code); err != nil {
			return nil, err
		}
		state, err := domain.MachineStateFromCode(code)
		if err != nil {
			return nil, fmt.Errorf("machine %q: %w", name, err)
		}
		states[name] = state
	}
	return states, rows.Err()
}

func (r *resourceRepository) SaveMachineStates(ctx context.Context, states map[string]domain.MachineState) error {
	return r.inTx(ctx, "save machines", func(tx pgx.Tx) error {
		if _, err := r.exec(ctx, tx, r.qb.Delete("machines")); err != nil {
			return err
		}
		if len(states) == 0 {
			return nil
		}
		insert := r.qb.Insert("machines").Columns("name", "state")
		for _, name := range slices.Sorted(maps.Keys(states)) {
			insert = insert.Values(name, states[name].Code())
		}
		_, err := r.exec(ctx, tx, insert)
		return err
	})
}

func (r *resourceRepository) UpdateMachineState(ctx context.Context, machine string, state domain.MachineState) error {
	n, err := r.exec(ctx, r.db, r.qb.Update("machines").
		Set("state", state.Code()).
		Where(squirrel.Eq{"name": machine}))
	if err != nil {
		return fmt.Errorf("update machine %q: %w", machine, err)
	}
	if n == 0 {
		return fmt.Errorf("update machine %q: %w", machine, domain.ErrUnknownMachine)
	}
	return nil
}

func (r *resourceRepository) LoadProcessingTimes(ctx context.Context) (map[string]float64, error) {
	rows, err := r.query(ctx, r.db, r.qb.Select("product", "seconds_per_unit").From("processing_times"))
	if err != nil {
		return nil, fmt.Errorf("load processing times: %w", err)
	}
	defer rows.Close()

	times := make(map[string]float64)
	for rows.Next() {
		var (
			product string
			seconds float64
		)
		if err := rows.Scan(&product, &seconds); err != nil {
			return nil, err
		}
		times[product] = seconds
	}
	return times, rows.Err()
}

func (r *resourceRepository) SaveProcessingTimes(ctx context.Context, times map[string]float64) error {
	return r.inTx(ctx, "save processing times", func(tx pgx.Tx) error {
		if _, err := r.exec(ctx, tx, r.qb.Delete("processing_times")); err != nil {
			return err
		}
		if len(times) == 0 {
			return nil
		}
		insert := r.qb.Insert("processing_times").Columns("product", "seconds_per_unit")
		for _, product := range slices.Sorted(maps.Keys(times)) {
			insert = insert.Values(product, times[product])
		}
		_, err := r.exec(ctx, tx, insert)
		return err
	})
}

func (r *resourceRepository) LoadMaterialsUsage(ctx context.Context) (map[string]map[string]float64, error) {
	rows, err := r.query(ctx, r.db, r.qb.Select("product", "material", "quantity_per_unit").From("materials_usage"))
	if err != nil {
		return nil, fmt.Errorf("load materials usage: %w", err)
	}
	defer rows.Close()

	usage := make(map[string]map[string]float64)
	for rows.Next() {
		var (
			product, material string
			perUnit           float64
		)
		if err := rows.Scan(&product, &material, &perUnit); err != nil {
			return nil, err
		}
		if usage[product] == nil {
			usage[product] = make(map[string]float64)
		}
		usage[product][material] = perUnit
	}
	return usage, rows.Err()
}

func (r *resourceRepository) SaveMaterialsUsage(ctx context.Context, usage map[string]map[string]float64) error {
	return r.inTx(ctx, "save materials usage", func(tx pgx.Tx) error {
		if _, err := r.exec(ctx, tx, r.qb.Delete("materials_usage")); err != nil {
			return err
		}
		insert := r.qb.Insert("materials_usage").Columns("product", "material", "quantity_per_unit")
		rows := 0
		for _, product := range slices.Sorted(maps.Keys(usage)) {
			for _, material := range slices.Sorted(maps.Keys(usage[product])) {
				insert = insert.Values(product, material, usage[product][material])
				rows++
			}
		}
		if rows == 0 {
			return nil
		}
		_, err := r.exec(ctx, tx, insert)
		return err
	})
}

func (r *resourceRepository) LoadMaterialsAvailable(ctx context.Context) (domain.Inventory, error) {
	return r.loadInventory(ctx, r.db)
}

func (r *resourceRepository) loadInventory(ctx context.Context, q execer) (domain.Inventory, error) {
	rows, err := r.query(ctx, q, r.qb.Select("material", "quantity").From("materials_available"))
	if err != nil {
		return nil, fmt.Errorf("load materials available: %w", err)
	}
	defer rows.Close()

	inventory := make(domain.Inventory)
	for rows.Next() {
		var (
			material string
			quantity float64
		)
		if err := rows.Scan(&material, &quantity); err != nil {
			return nil, err
		}
		inventory[material] = quantity
	}
	return inventory, rows.Err()
}

func (r *resourceRepository) SaveMaterialsAvailable(ctx context.Context, inventory domain.Inventory) error {
	return r.inTx(ctx, "save materials available", func(tx pgx.Tx) error {
		return r.replaceInventory(ctx, tx, inventory)
	})
}

func (r *resourceRepository) replaceInventory(ctx context.Context, tx pgx.Tx, inventory domain.Inventory) error {
	if _, err := r.exec(ctx, tx, r.qb.Delete("materials_available")); err != nil {
		return err
	}
	if len(inventory) == 0 {
		return nil
	}
	insert := r.qb.Insert("materials_available").Columns("material", "quantity")
	for _, material := range slices.Sorted(maps.Keys(inventory)) {
		insert = insert.Values(material, inventory[material])
	}
	_, err := r.exec(ctx, tx, insert)
	return err
}

func (r *resourceRepository) LoadSchedule(ctx context.Context) (domain.Schedule, error) {
	return r.loadSchedule(ctx, r.db)
}

func (r *resourceRepository) loadSchedule(ctx context.Context, q execer) (domain.Schedule, error) {
	rows, err := r.query(ctx, q, r.qb.
		Select("order_id", "product", "quantity", "COALESCE(metadata::text, '')").
		From("schedule").
		OrderBy("position"))
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	defer rows.Close()

	schedule := domain.Schedule{}
	for rows.Next() {
		var (
			o        domain.Order
			metadata string
		)
		if err := rows.Scan(&o.OrderID, &o.Product, &o.Quantity, &metadata); err != nil {
			return nil, err
		}
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &o.Metadata); err != nil {
				return nil, fmt.Errorf("order %s metadata: %w", o.OrderID, err)
			}
		}
		schedule = append(schedule, o)
	}
	return schedule, rows.Err()
}

func (r *resourceRepository) SaveSchedule(ctx context.Context, schedule domain.Schedule) error {
	return r.inTx(ctx, "save schedule", func(tx pgx.Tx) error {
		return r.replaceSchedule(ctx, tx, schedule)
	})
}

func (r *resourceRepository) replaceSchedule(ctx context.Context, tx pgx.Tx, schedule domain.Schedule) error {
	if _, err := r.exec(ctx, tx, r.qb.Delete("schedule")); err != nil {
		return err
	}
	if len(schedule) == 0 {
		return nil
	}
	insert := r.qb.Insert("schedule").Columns("position", "order_id", "product", "quantity", "metadata")
	for i, o := range schedule {
		metadata, err := metadataValue(o)
		if err != nil {
			return err
		}
		insert = insert.Values(i, o.OrderID, o.Product, o.Quantity, metadata)
	}
	_, err := r.exec(ctx, tx, insert)
	return err
}

// metadataValue renders the order metadata as a jsonb expression, nil when empty
func metadataValue(o domain.Order) (any, error) {
	if len(o.Metadata) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(o.Metadata)
	if err != nil {
		return nil, fmt.Errorf("order %s metadata: %w", o.OrderID, err)
	}
	return squirrel.Expr("?::jsonb", string(raw)), nil
}

// AppendOrder holds an exclusive lock on schedule so concurrent appends get
// distinct ids and positions.
func (r *resourceRepository) AppendOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	order = order.Clone()
	err := r.inTx(ctx, "append order", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "LOCK TABLE schedule IN EXCLUSIVE MODE"); err != nil {
			return err
		}
		rows, err := r.query(ctx, tx, r.qb.
			Select("position", "order_id").
			From("schedule").
			OrderBy("position DESC").
			Limit(1))
		if err != nil {
			return err
		}
		last, err := pgx.CollectRows(rows, pgx.RowToStructByPos[struct {
			Position int
			OrderID  string
		}])
		if err != nil {
			return err
		}

		position := 0
		tail := domain.Schedule{}
		if len(last) > 0 {
			position = last[0].Position + 1
			tail = append(tail, domain.Order{OrderID: last[0].OrderID})
		}
		if order.OrderID == "" {
			order.OrderID = domain.NextOrderID(tail)
		}

		metadata, err := metadataValue(order)
		if err != nil {
			return err
		}
		_, err = r.exec(ctx, tx, r.qb.Insert("schedule").
			Columns("position", "order_id", "product", "quantity", "metadata").
			Values(position, order.OrderID, order.Product, order.Quantity, metadata))
		return err
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// CommitReservation applies the reservation with guarded statements in one
// transaction: the machine flips only from idle, every material decrements
// only while enough is left, and the order row is deleted by id. Any guard
// that matches no row rolls the whole transaction back.
func (r *resourceRepository) CommitReservation(ctx context.Context, commit domain.ReservationCommit) (domain.ReservationState, error) {
	var next domain.ReservationState
	err := r.inTx(ctx, "commit reservation", func(tx pgx.Tx) error {
		n, err := r.exec(ctx, tx, r.qb.Update("machines").
			Set("state", domain.MachineBusy.Code()).
			Where(squirrel.Eq{"name": commit.Machine, "state": domain.MachineIdle.Code()}))
		if err != nil {
			return err
		}
		if n == 0 {
			return r.machineRejection(ctx, tx, commit.Machine)
		}

		var short bool
		deducted := make(map[string]float64, len(commit.Required))
		for _, material := range slices.Sorted(maps.Keys(commit.Required)) {
			need := commit.Required[material]
			if need <= 0 {
				continue
			}
			n, err := r.exec(ctx, tx, r.qb.Update("materials_available").
				Set("quantity", squirrel.Expr("quantity - ?", need)).
				Where(squirrel.And{
					squirrel.Eq{"material": material},
					squirrel.GtOrEq{"quantity": need},
				}))
			if err != nil {
				return err
			}
			if n == 0 {
				short = true
				continue
			}
			deducted[material] = need
		}
		if short {
			// Shortfalls are measured against the stock before this commit's own decrements.
			inventory, err := r.loadInventory(ctx, tx)
			if err != nil {
				return err
			}
			for material, need := range deducted {
				inventory[material] += need
			}
			return domain.NewInsufficientMaterials(inventory.Shortfalls(commit.Required))
		}

		if _, err := r.exec(ctx, tx, r.qb.Delete("schedule").Where(squirrel.Eq{"order_id": commit.OrderID})); err != nil {
			return err
		}

		if next.Inventory, err = r.loadInventory(ctx, tx); err != nil {
			return err
		}
		next.Schedule, err = r.loadSchedule(ctx, tx)
		return err
	})
	if err != nil {
		return domain.ReservationState{}, err
	}
	return next, nil
}

// machineRejection explains why the guarded busy flip matched no row
func (r *resourceRepository) machineRejection(ctx context.Context, tx pgx.Tx, machine string) error {
	rows, err := r.query(ctx, tx, r.qb.Select("state").From("machines").Where(squirrel.Eq{"name": machine}))
	if err != nil {
		return err
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return err
	}
	if len(codes) == 0 {
		return fmt.Errorf("machine %q: %w", machine, domain.ErrUnknownMachine)
	}
	return domain.MachineBusyError(machine)
}
