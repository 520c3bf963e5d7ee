package queue

import (
	"database/sql"
	"errors"
	"time"
)

const jobColumns = "id, kind, waiting, status, host, rule, log, command, analysis, target, parameter_set_id, subject, session, dataset, storage, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id         int64
		kind       string
		waiting    int64
		status     string
		host       sql.NullString
		rule       sql.NullString
		logText    sql.NullString
		command    sql.NullString
		analysis   sql.NullString
		target     sql.NullString
		paramSetID sql.NullInt64
		subject    sql.NullString
		session    sql.NullString
		dataset    sql.NullString
		storage    sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&id,
		&kind,
		&waiting,
		&status,
		&host,
		&rule,
		&logText,
		&command,
		&analysis,
		&target,
		&paramSetID,
		&subject,
		&session,
		&dataset,
		&storage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:             id,
		Kind:           Kind(kind),
		Waiting:        waiting != 0,
		Status:         Status(status),
		Host:           host.String,
		Rule:           rule.String,
		Log:            logText.String,
		Command:        command.String,
		Analysis:       analysis.String,
		Target:         target.String,
		ParameterSetID: paramSetID.Int64,
		Dataset: DatasetKey{
			Subject: subject.String,
			Session: session.String,
			Dataset: dataset.String,
		},
		Storage: storage.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

func scanStagedFile(scanner interface{ Scan(dest ...any) error }) (StagedFile, error) {
	var (
		jobID    int64
		path     string
		size     int64
		mtimeRaw sql.NullString
		md5sum   sql.NullString
	)
	if err := scanner.Scan(&jobID, &path, &size, &mtimeRaw, &md5sum); err != nil {
		return StagedFile{}, err
	}
	file := StagedFile{JobID: jobID, Path: path, Size: size, Checksum: md5sum.String}
	if mtimeRaw.Valid {
		if mtime, err := parseTimeString(mtimeRaw.String); err == nil {
			file.ModTime = mtime
		}
	}
	return file, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt64(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
