package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/employee"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
)

type storedEmployee struct {
	PersonID      string    `db:"person_id"`
	Name          string    `db:"name"`
	Email         string    `db:"email"`
	Position      string    `db:"position"`
	SourceVersion int64     `db:"source_version"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func NewEmployeeRepository(client mysql.ClientContext) employee.Repository {
	return &employeeRepository{client: client}
}

type employeeRepository struct {
	client mysql.ClientContext
}

func (r *employeeRepository) GetForUpdate(ctx context.Context, personID string) (employee.Employee, error) {
	return r.get(ctx, personID, " FOR UPDATE")
}

func (r *employeeRepository) Get(ctx context.Context, personID string) (employee.Employee, error) {
	return r.get(ctx, personID, "")
}

func (r *employeeRepository) get(ctx context.Context, personID, lock string) (employee.Employee, error) {
	var stored storedEmployee
	err := r.client.GetContext(ctx, &stored, `
		SELECT person_id, name, email, position, source_version, updated_at
		FROM employee
		WHERE person_id = ?`+lock, personID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return employee.Employee{}, errors.WithStack(employee.ErrEmployeeNotFound)
		}
		return employee.Employee{}, mysql.Classify(errors.WithStack(err))
	}
	return employee.Employee(stored), nil
}

func (r *employeeRepository) Update(ctx context.Context, e employee.Employee) error {
	_, err := r.client.ExecContext(ctx, `
		UPDATE employee SET name = ?, email = ?, position = ?, source_version = ?, updated_at = ?
		WHERE person_id = ?
	`, e.Name, e.Email, e.Position, e.SourceVersion, e.UpdatedAt, e.PersonID)
	return mysql.Classify(errors.WithStack(err))
}
