package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/shopkeeper/internal/dbx"
	"github.com/dmitrijs2005/shopkeeper/internal/server/repositories/entities"
	"github.com/dmitrijs2005/shopkeeper/internal/server/repositories/trash"
	"github.com/dmitrijs2005/shopkeeper/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Entities(db dbx.DBTX) entities.Repository
	Trash(db dbx.DBTX) trash.Repository
}
