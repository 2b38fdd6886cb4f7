package repository

import (
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/consumer"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/employee"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/ledger"
	appoutbox "gitea.xscloud.ru/xscloud/staffsync/pkg/application/outbox"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/application/person"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/inbox"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/mysql"
	"gitea.xscloud.ru/xscloud/staffsync/pkg/infrastructure/outbox"
)

// NewPersonProvider builds the repositories a person update writes to: the
// person row and the outbox of transport.
func NewPersonProvider(transport string) mysql.RepositoryProviderBuilder[person.RepositoryProvider] {
	return func(client mysql.ClientContext) person.RepositoryProvider {
		return &personProvider{client: client, transport: transport}
	}
}

type personProvider struct {
	client    mysql.ClientContext
	transport string
}

func (p *personProvider) PersonRepository() person.Repository {
	return NewPersonRepository(p.client)
}

func (p *personProvider) OutboxWriter() appoutbox.Writer {
	return outbox.NewWriter(p.client, p.transport)
}

func NewEmployeeProvider() mysql.RepositoryProviderBuilder[consumer.RepositoryProvider] {
	return func(client mysql.ClientContext) consumer.RepositoryProvider {
		return &employeeProvider{client: client}
	}
}

type employeeProvider struct {
	client mysql.ClientContext
}

func (p *employeeProvider) Ledger() ledger.Writer {
	return inbox.NewLedger(p.client)
}

func (p *employeeProvider) EmployeeRepository() employee.Repository {
	return NewEmployeeRepository(p.client)
}
