package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/patientcore/internal/platform/apperr"
	"github.com/ehr/patientcore/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const patientCols = `id, first_name, last_name, birth_date, gender,
	national_id, passport_number, drivers_license, email, phone,
	address_line1, address_line2, city, state, postal_code, country, blood_type,
	owning_clinician_id, created_by, updated_by, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (
			id, first_name, last_name, birth_date, gender,
			national_id, passport_number, drivers_license, email, phone,
			address_line1, address_line2, city, state, postal_code, country, blood_type,
			owning_clinician_id, created_by, updated_by
		) VALUES (
			$1,$2,$3,$4,$5,
			$6,$7,$8,$9,$10,
			$11,$12,$13,$14,$15,$16,$17,
			$18,$19,$20
		) RETURNING created_at, updated_at`,
		p.ID, p.FirstName, p.LastName, p.BirthDate, p.Gender,
		p.NationalID, p.PassportNumber, p.DriversLicense, p.Email, p.Phone,
		p.AddressLine1, p.AddressLine2, p.City, p.State, p.PostalCode, p.Country, p.BloodType,
		p.OwningClinicianID, p.CreatedBy, p.UpdatedBy,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create patient: %w", db.Classify(err))
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("patient %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient: %w", db.Classify(err))
	}
	return p, nil
}

func (r *repoPG) ListAll(ctx context.Context) ([]*Patient, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+patientCols+` FROM patient ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", db.Classify(err))
	}
	return collectPatients(rows)
}

func (r *repoPG) SearchByDemographics(ctx context.Context, d Demographics) ([]*Patient, error) {
	query, args := buildDemographicsQuery(d)
	if query == "" {
		return nil, nil
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search patients: %w", db.Classify(err))
	}
	return collectPatients(rows)
}

// trimmedCol strips trimSet from col. The expression must stay byte-for-byte
// identical to the patient_*_idx definitions in the migrations.
func trimmedCol(col string) string {
	return "BTRIM(" + col + `, E' \t\n\r\x0B\f')`
}

// buildDemographicsQuery ORs one clause per usable signal. It returns an
// empty query when nothing is usable.
func buildDemographicsQuery(d Demographics) (string, []interface{}) {
	d = d.Normalize()
	var clauses []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if d.FirstName != "" && d.LastName != "" && d.BirthDate != nil {
		clauses = append(clauses, fmt.Sprintf("(LOWER(%s) = LOWER(%s) AND LOWER(%s) = LOWER(%s) AND birth_date = %s)",
			trimmedCol("first_name"), arg(d.FirstName), trimmedCol("last_name"), arg(d.LastName), arg(*d.BirthDate)))
	}
	if d.NationalID != "" {
		clauses = append(clauses, trimmedCol("national_id")+" = "+arg(d.NationalID))
	}
	if d.PassportNumber != "" {
		clauses = append(clauses, trimmedCol("passport_number")+" = "+arg(d.PassportNumber))
	}
	if d.DriversLicense != "" {
		clauses = append(clauses, trimmedCol("drivers_license")+" = "+arg(d.DriversLicense))
	}
	if d.Email != "" {
		clauses = append(clauses, "LOWER("+trimmedCol("email")+") = LOWER("+arg(d.Email)+")")
	}
	if d.Phone != "" {
		clauses = append(clauses, "LOWER("+trimmedCol("phone")+") = LOWER("+arg(d.Phone)+")")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return `SELECT ` + patientCols + ` FROM patient WHERE ` + strings.Join(clauses, " OR ") +
		` ORDER BY created_at, id`, args
}

func collectPatients(rows pgx.Rows) ([]*Patient, error) {
	defer rows.Close()
	var patients []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", db.Classify(err))
		}
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patients: %w", db.Classify(err))
	}
	return patients, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.BirthDate, &p.Gender,
		&p.NationalID, &p.PassportNumber, &p.DriversLicense, &p.Email, &p.Phone,
		&p.AddressLine1, &p.AddressLine2, &p.City, &p.State, &p.PostalCode, &p.Country, &p.BloodType,
		&p.OwningClinicianID, &p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
