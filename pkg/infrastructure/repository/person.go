// Package repository holds the MySQL stores of the person and employee
// services and the repository providers their units of work run with.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/person"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
)

type storedPerson struct {
	ID        string    `db:"person_id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	Position  string    `db:"position"`
	Version   int64     `db:"version"`
	UpdatedAt time.Time `db:"updated_at"`
}

func NewPersonRepository(client mysql.ClientContext) person.Repository {
	return &personRepository{client: client}
}

type personRepository struct {
	client mysql.ClientContext
}

func (r *personRepository) GetForUpdate(ctx context.Context, id string) (person.Person, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *personRepository) Get(ctx context.Context, id string) (person.Person, error) {
	return r.get(ctx, id, "")
}

func (r *personRepository) get(ctx context.Context, id, lock string) (person.Person, error) {
	var stored storedPerson
	err := r.client.GetContext(ctx, &stored, `
		SELECT person_id, name, email, position, version, updated_at
		FROM person
		WHERE person_id = ?`+lock, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return person.Person{}, errors.Wrapf(person.ErrPersonNotFound, "person %s", id)
		}
		return person.Person{}, mysql.Classify(errors.WithStack(err))
	}
	return person.Person(stored), nil
}

func (r *personRepository) Update(ctx context.Context, p person.Person) error {
	result, err := r.client.ExecContext(ctx, `
		UPDATE person SET name = ?, email = ?, position = ?, version = ?, updated_at = ?
		WHERE person_id = ?
	`, p.Name, p.Email, p.Position, p.Version, p.UpdatedAt, p.ID)
	if err != nil {
		return mysql.Classify(errors.WithStack(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if affected == 0 {
		return errors.Wrapf(person.ErrPersonNotFound, "person %s", p.ID)
	}
	return nil
}
