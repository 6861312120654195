package storage

const schema = `
-- The 'documents' table stores each persisted JSON document as one row.
-- A save replaces the whole body, mirroring the file backend's rename.
CREATE TABLE IF NOT EXISTS documents (
    key TEXT PRIMARY KEY,
    body BLOB NOT NULL,
    updated_at DATETIME NOT NULL
);
`
