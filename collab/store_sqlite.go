package collab

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner TEXT NOT NULL,
	name TEXT NOT NULL,
	origin_time INTEGER NOT NULL,
	transient INTEGER NOT NULL DEFAULT 0,
	UNIQUE(owner, name)
);
CREATE TABLE IF NOT EXISTS roles (
	project_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	source_code TEXT NOT NULL DEFAULT '',
	media TEXT NOT NULL DEFAULT '',
	PRIMARY KEY(project_id, name)
);
CREATE TABLE IF NOT EXISTS collaborators (
	project_id INTEGER NOT NULL,
	username TEXT NOT NULL,
	PRIMARY KEY(project_id, username)
);
CREATE TABLE IF NOT EXISTS role_actions (
	project_id TEXT NOT NULL,
	role TEXT NOT NULL,
	action_id INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL
);
`

// SqliteStorage keeps projects in a sqlite database. The *sql.DB handle
// is safely shared across concurrent room operations.
type SqliteStorage struct {
	db      *sql.DB
	actions *sqliteActionStore
}

func NewSqliteStorage(path string) (*SqliteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite storage")
	}
	// sqlite serializes writers. A single connection avoids
	// SQLITE_BUSY under concurrent room persists.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply sqlite schema")
	}
	return &SqliteStorage{
		db:      db,
		actions: &sqliteActionStore{db: db},
	}, nil
}

func (self *SqliteStorage) OpenProject(owner string, name string) (ContentStore, error) {
	var id int64
	var originTime int64
	err := self.db.QueryRow(
		`SELECT id, origin_time FROM projects WHERE owner = ? AND name = ?`,
		owner, name,
	).Scan(&id, &originTime)
	if err == sql.ErrNoRows {
		return nil, NewNotFoundError("project %s does not exist", RoomId(owner, name))
	}
	if err != nil {
		return nil, NewStorageError(errors.Wrap(err, "open project"), "project %s", RoomId(owner, name))
	}
	return &sqliteProject{
		storage:    self,
		id:         id,
		owner:      owner,
		name:       name,
		originTime: time.UnixMilli(originTime),
	}, nil
}

func (self *SqliteStorage) CreateProject(owner string, name string, transient bool) (ContentStore, error) {
	originTime := time.Now()
	result, err := self.db.Exec(
		`INSERT INTO projects (owner, name, origin_time, transient) VALUES (?, ?, ?, ?)`,
		owner, name, originTime.UnixMilli(), transient,
	)
	if err != nil {
		return nil, NewStorageError(errors.Wrap(err, "create project"), "project %s", RoomId(owner, name))
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, NewStorageError(err, "project %s", RoomId(owner, name))
	}
	return &sqliteProject{
		storage:    self,
		id:         id,
		owner:      owner,
		name:       name,
		originTime: originTime,
	}, nil
}

func (self *SqliteStorage) OwnerProjects(owner string) ([]ProjectInfo, error) {
	rows, err := self.db.Query(
		`SELECT name, origin_time, transient FROM projects WHERE owner = ?`,
		owner,
	)
	if err != nil {
		return nil, NewStorageError(errors.Wrap(err, "owner projects"), "owner %s", owner)
	}
	defer rows.Close()

	infos := []ProjectInfo{}
	for rows.Next() {
		var name string
		var originTime int64
		var transient bool
		if err := rows.Scan(&name, &originTime, &transient); err != nil {
			return nil, NewStorageError(err, "owner %s", owner)
		}
		infos = append(infos, ProjectInfo{
			Owner:      owner,
			Name:       name,
			OriginTime: time.UnixMilli(originTime),
			Transient:  transient,
		})
	}
	return infos, rows.Err()
}

func (self *SqliteStorage) Actions() ActionStore {
	return self.actions
}

func (self *SqliteStorage) Close() error {
	return self.db.Close()
}

type sqliteProject struct {
	storage *SqliteStorage

	stateLock  sync.Mutex
	id         int64
	owner      string
	name       string
	originTime time.Time
}

func (self *sqliteProject) Id() string {
	return fmt.Sprintf("%d", self.id)
}

func (self *sqliteProject) Owner() string {
	return self.owner
}

func (self *sqliteProject) Name() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.name
}

func (self *sqliteProject) SetName(name string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if name == self.name {
		return nil
	}
	_, err := self.storage.db.Exec(
		`UPDATE projects SET name = ? WHERE id = ?`,
		name, self.id,
	)
	if err != nil {
		return NewStorageError(errors.Wrap(err, "rename project"), "project %s", RoomId(self.owner, self.name))
	}
	self.name = name
	return nil
}

func (self *sqliteProject) OriginTime() time.Time {
	return self.originTime
}

func (self *sqliteProject) RoleNames() ([]string, error) {
	rows, err := self.storage.db.Query(
		`SELECT name FROM roles WHERE project_id = ? ORDER BY name`,
		self.id,
	)
	if err != nil {
		return nil, NewStorageError(errors.Wrap(err, "role names"), "project %s", self.Id())
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, NewStorageError(err, "project %s", self.Id())
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (self *sqliteProject) GetRole(name string) (*RoleContent, error) {
	var sourceCode string
	var media string
	err := self.storage.db.QueryRow(
		`SELECT source_code, media FROM roles WHERE project_id = ? AND name = ?`,
		self.id, name,
	).Scan(&sourceCode, &media)
	if err == sql.ErrNoRows {
		return nil, NewNotFoundError("role %s does not exist in %s", name, RoomId(self.owner, self.Name()))
	}
	if err != nil {
		return nil, NewStorageError(errors.Wrap(err, "get role"), "role %s", name)
	}
	return NewRoleContent(name, sourceCode, media), nil
}

func (self *sqliteProject) SetRole(name string, content *RoleContent) error {
	_, err := self.storage.db.Exec(
		`INSERT INTO roles (project_id, name, source_code, media) VALUES (?, ?, ?, ?)
		 ON CONFLICT(project_id, name) DO UPDATE SET source_code = excluded.source_code, media = excluded.media`,
		self.id, name, content.SourceCode, content.Media,
	)
	if err != nil {
		return NewStorageError(errors.Wrap(err, "set role"), "role %s", name)
	}
	return nil
}

func (self *sqliteProject) SetRoles(contents []*RoleContent) error {
	tx, err := self.storage.db.Begin()
	if err != nil {
		return NewStorageError(errors.Wrap(err, "set roles"), "project %s", self.Id())
	}
	defer tx.Rollback()

	for _, content := range contents {
		_, err := tx.Exec(
			`INSERT INTO roles (project_id, name, source_code, media) VALUES (?, ?, ?, ?)
			 ON CONFLICT(project_id, name) DO UPDATE SET source_code = excluded.source_code, media = excluded.media`,
			self.id, content.Name, content.SourceCode, content.Media,
		)
		if err != nil {
			return NewStorageError(errors.Wrap(err, "set roles"), "role %s", content.Name)
		}
	}
	return tx.Commit()
}

func (self *sqliteProject) RemoveRole(name string) error {
	result, err := self.storage.db.Exec(
		`DELETE FROM roles WHERE project_id = ? AND name = ?`,
		self.id, name,
	)
	if err != nil {
		return NewStorageError(errors.Wrap(err, "remove role"), "role %s", name)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return NewNotFoundError("role %s does not exist in %s", name, RoomId(self.owner, self.Name()))
	}
	return nil
}

func (self *sqliteProject) RenameRole(oldName string, newName string) error {
	_, err := self.storage.db.Exec(
		`UPDATE roles SET name = ? WHERE project_id = ? AND name = ?`,
		newName, self.id, oldName,
	)
	if err != nil {
		return NewStorageError(errors.Wrap(err, "rename role"), "role %s", oldName)
	}
	return nil
}

func (self *sqliteProject) CloneRole(name string, cloneName string) error {
	_, err := self.storage.db.Exec(
		`INSERT INTO roles (project_id, name, source_code, media)
		 SELECT project_id, ?, source_code, media FROM roles WHERE project_id = ? AND name = ?`,
		cloneName, self.id, name,
	)
	if err != nil {
		return NewStorageError(errors.Wrap(err, "clone role"), "role %s", name)
	}
	return nil
}

func (self *sqliteProject) RoleActionId(name string) (int64, error) {
	content, err := self.GetRole(name)
	if err != nil {
		return NoActionId, err
	}
	return ParseActionId(content.SourceCode), nil
}

func (self *sqliteProject) Collaborators() []string {
	rows, err := self.storage.db.Query(
		`SELECT username FROM collaborators WHERE project_id = ? ORDER BY username`,
		self.id,
	)
	if err != nil {
		return []string{}
	}
	defer rows.Close()

	collaborators := []string{}
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return collaborators
		}
		collaborators = append(collaborators, username)
	}
	return collaborators
}

func (self *sqliteProject) AddCollaborator(username string) error {
	_, err := self.storage.db.Exec(
		`INSERT OR IGNORE INTO collaborators (project_id, username) VALUES (?, ?)`,
		self.id, username,
	)
	if err != nil {
		return NewStorageError(errors.Wrap(err, "add collaborator"), "user %s", username)
	}
	return nil
}

func (self *sqliteProject) RemoveCollaborator(username string) error {
	_, err := self.storage.db.Exec(
		`DELETE FROM collaborators WHERE project_id = ? AND username = ?`,
		self.id, username,
	)
	if err != nil {
		return NewStorageError(errors.Wrap(err, "remove collaborator"), "user %s", username)
	}
	return nil
}

func (self *sqliteProject) Fork(owner string) (ContentStore, error) {
	infos, err := self.storage.OwnerProjects(owner)
	if err != nil {
		return nil, err
	}
	ownerNames := []string{}
	for _, info := range infos {
		ownerNames = append(ownerNames, info.Name)
	}
	forkName := UniqueName(self.Name(), ownerNames)

	fork, err := self.storage.CreateProject(owner, forkName, true)
	if err != nil {
		return nil, err
	}
	forkId := fork.(*sqliteProject).id

	tx, err := self.storage.db.Begin()
	if err != nil {
		return nil, NewStorageError(errors.Wrap(err, "fork project"), "project %s", self.Id())
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO roles (project_id, name, source_code, media)
		 SELECT ?, name, source_code, media FROM roles WHERE project_id = ?`,
		forkId, self.id,
	)
	if err != nil {
		return nil, NewStorageError(errors.Wrap(err, "fork roles"), "project %s", self.Id())
	}
	_, err = tx.Exec(
		`INSERT INTO collaborators (project_id, username)
		 SELECT ?, username FROM collaborators WHERE project_id = ?`,
		forkId, self.id,
	)
	if err != nil {
		return nil, NewStorageError(errors.Wrap(err, "fork collaborators"), "project %s", self.Id())
	}
	if err := tx.Commit(); err != nil {
		return nil, NewStorageError(errors.Wrap(err, "fork project"), "project %s", self.Id())
	}
	return fork, nil
}

func (self *sqliteProject) IsTransient() (bool, error) {
	var transient bool
	err := self.storage.db.QueryRow(
		`SELECT transient FROM projects WHERE id = ?`,
		self.id,
	).Scan(&transient)
	if err != nil {
		return false, NewStorageError(errors.Wrap(err, "is transient"), "project %s", self.Id())
	}
	return transient, nil
}

func (self *sqliteProject) SetTransient(transient bool) error {
	_, err := self.storage.db.Exec(
		`UPDATE projects SET transient = ? WHERE id = ?`,
		transient, self.id,
	)
	if err != nil {
		return NewStorageError(errors.Wrap(err, "set transient"), "project %s", self.Id())
	}
	return nil
}

func (self *sqliteProject) Destroy() error {
	tx, err := self.storage.db.Begin()
	if err != nil {
		return NewStorageError(errors.Wrap(err, "destroy project"), "project %s", self.Id())
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM roles WHERE project_id = ?`,
		`DELETE FROM collaborators WHERE project_id = ?`,
		`DELETE FROM projects WHERE id = ?`,
	} {
		if _, err := tx.Exec(stmt, self.id); err != nil {
			return NewStorageError(errors.Wrap(err, "destroy project"), "project %s", self.Id())
		}
	}
	if _, err := tx.Exec(`DELETE FROM role_actions WHERE project_id = ?`, self.Id()); err != nil {
		return NewStorageError(errors.Wrap(err, "destroy project"), "project %s", self.Id())
	}
	return tx.Commit()
}

func (self *sqliteProject) Save() error {
	// writes are write-through
	return nil
}

type sqliteActionStore struct {
	db *sql.DB
}

func (self *sqliteActionStore) Record(projectId string, role string, actionId int64) error {
	_, err := self.db.Exec(
		`INSERT INTO role_actions (project_id, role, action_id, recorded_at) VALUES (?, ?, ?, ?)`,
		projectId, role, actionId, time.Now().UnixMilli(),
	)
	if err != nil {
		return NewStorageError(errors.Wrap(err, "record action"), "role %s", role)
	}
	return nil
}

func (self *sqliteActionStore) ActionIds(projectId string, role string) ([]int64, error) {
	rows, err := self.db.Query(
		`SELECT action_id FROM role_actions WHERE project_id = ? AND role = ? ORDER BY action_id`,
		projectId, role,
	)
	if err != nil {
		return nil, NewStorageError(errors.Wrap(err, "action ids"), "role %s", role)
	}
	defer rows.Close()

	actionIds := []int64{}
	for rows.Next() {
		var actionId int64
		if err := rows.Scan(&actionId); err != nil {
			return nil, NewStorageError(err, "role %s", role)
		}
		actionIds = append(actionIds, actionId)
	}
	return actionIds, rows.Err()
}

func (self *sqliteActionStore) ClearActionsAfter(projectId string, role string, actionId int64) error {
	_, err := self.db.Exec(
		`DELETE FROM role_actions WHERE project_id = ? AND role = ? AND action_id > ?`,
		projectId, role, actionId,
	)
	if err != nil {
		return NewStorageError(errors.Wrap(err, "clear actions"), "role %s", role)
	}
	return nil
}
