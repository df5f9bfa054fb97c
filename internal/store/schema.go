package store

// Session rows are stored one table per file; the id sequence makes the
// tail row addressable without scanning.
const sessionSchema = `
CREATE SEQUENCE IF NOT EXISTS sessions_id_seq START 1;

CREATE TABLE IF NOT EXISTS sessions (
    id            BIGINT DEFAULT nextval('sessions_id_seq') PRIMARY KEY,
    start_time    TIMESTAMP NOT NULL,
    end_time      TIMESTAMP NOT NULL,
    duration_sec  DOUBLE NOT NULL,
    app           VARCHAR NOT NULL,
    title         VARCHAR,
    url           VARCHAR,
    category      VARCHAR,
    is_productive BOOLEAN,
    device_id     VARCHAR
);
`

// sessionColumns is the canonical column set. Files written by older
// versions are brought up to the union of columns on append; missing
// values stay NULL.
var sessionColumns = []struct {
	name string
	typ  string
}{
	{"start_time", "TIMESTAMP"},
	{"end_time", "TIMESTAMP"},
	{"duration_sec", "DOUBLE"},
	{"app", "VARCHAR"},
	{"title", "VARCHAR"},
	{"url", "VARCHAR"},
	{"category", "VARCHAR"},
	{"is_productive", "BOOLEAN"},
	{"device_id", "VARCHAR"},
}
