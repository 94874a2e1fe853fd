package store

import (
	"fmt"

	"github.com/Zuo-Peng/chatmask/internal/session"
)

// LoadSession rebuilds a session from the stored conversations and rules.
func (d *DB) LoadSession() (*session.Session, error) {
	convs, err := d.Conversations()
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	rules, err := d.Rules()
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	s := session.New()
	s.Load(convs)
	for _, r := range rules {
		s.Mask().AddRule(r)
	}
	return s, nil
}

// SaveSelection writes every conversation's inclusion flag and the mask rules.
func (d *DB) SaveSelection(s *session.Session) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("UPDATE conversations SET included = ? WHERE id = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range s.Conversations() {
		if _, err := stmt.Exec(c.Included, c.ID); err != nil {
			return fmt.Errorf("save selection %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return d.SaveRules(s.Mask().Patterns())
}
