package storage

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    start_time DATETIME NOT NULL,
    end_time   DATETIME,
    vehicle    TEXT NOT NULL,
    config     TEXT
);

CREATE TABLE IF NOT EXISTS telemetry (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id  INTEGER NOT NULL REFERENCES sessions (id),
    timestamp   DATETIME NOT NULL,
    latitude    REAL,
    longitude   REAL,
    altitude    REAL,
    roll        REAL,
    pitch       REAL,
    yaw         REAL,
    battery_pct REAL,
    voltage     REAL,
    armed       INTEGER,
    in_air      INTEGER,
    flight_mode TEXT
);

CREATE TABLE IF NOT EXISTS commands (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id INTEGER NOT NULL REFERENCES sessions (id),
    timestamp  DATETIME NOT NULL,
    source     TEXT NOT NULL,
    x          REAL NOT NULL,
    y          REAL NOT NULL,
    z          REAL NOT NULL,
    r          REAL NOT NULL
)`

	// Indexes are created on close, after the bulk of the writes.
	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_telemetry_session_time ON telemetry (session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_commands_session_time ON commands (session_id, timestamp)`

	insertSessionSQL = `
INSERT INTO sessions (
    start_time,
    vehicle,
    config)
VALUES (CURRENT_TIMESTAMP, ?, ?)`

	endSessionSQL = `
UPDATE sessions
SET end_time = CURRENT_TIMESTAMP
WHERE id = ?`

	selectSessionSQL = `
SELECT
    id,
    start_time,
    end_time,
    vehicle,
    config
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    start_time,
    end_time,
    vehicle,
    config
FROM sessions
ORDER BY start_time`

	insertTelemetrySQL = `
INSERT INTO telemetry (session_id,
                       timestamp,
                       latitude,
                       longitude,
                       altitude,
                       roll,
                       pitch,
                       yaw,
                       battery_pct,
                       voltage,
                       armed,
                       in_air,
                       flight_mode)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectTelemetrySQL = `
SELECT
    timestamp,
    latitude,
    longitude,
    altitude,
    roll,
    pitch,
    yaw,
    battery_pct,
    voltage,
    armed,
    in_air,
    flight_mode
FROM telemetry
WHERE
    session_id = ?
    AND timestamp >= ?
    AND timestamp <= ?
ORDER BY timestamp`

	selectTelemetryBoundsSQL = `
SELECT
    MIN(timestamp),
    MAX(timestamp)
FROM telemetry
WHERE
    session_id = ?`

	insertCommandSQL = `
INSERT INTO commands (session_id,
                      timestamp,
                      source,
                      x,
                      y,
                      z,
                      r)
VALUES `
)
