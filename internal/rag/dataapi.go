package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	rdsdatatypes "github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
	"github.com/rs/zerolog/log"
)

// StatementExecutor is the subset of the RDS Data API client the store uses.
type StatementExecutor interface {
	ExecuteStatement(ctx context.Context, params *rdsdata.ExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.ExecuteStatementOutput, error)
}

// DataAPIStore keeps cases in Aurora PostgreSQL (pgvector) through the RDS
// Data API, so Lambdas need no VPC access or connection pool.
type DataAPIStore struct {
	client     StatementExecutor
	rdsClient  *rds.Client
	clusterARN string
	secretARN  string
	database   string
	collection string
}

var _ VectorStore = (*DataAPIStore)(nil)

// NewDataAPIStore creates a store. rdsClient is optional; when set, the
// cluster is started on demand if it has auto-stopped.
func NewDataAPIStore(client StatementExecutor, rdsClient *rds.Client, clusterARN, secretARN, database, collection string) *DataAPIStore {
	return &DataAPIStore{
		client:     client,
		rdsClient:  rdsClient,
		clusterARN: clusterARN,
		secretARN:  secretARN,
		database:   database,
		collection: collection,
	}
}

const dataAPISchema = `CREATE TABLE IF NOT EXISTS historical_cases (
	id BIGSERIAL PRIMARY KEY,
	collection VARCHAR(128) NOT NULL,
	case_id VARCHAR(191) NOT NULL UNIQUE,
	student_id VARCHAR(64) NOT NULL,
	district VARCHAR(128) NOT NULL DEFAULT '',
	final_decision VARCHAR(32) NOT NULL DEFAULT '',
	ai_decision VARCHAR(32) NOT NULL DEFAULT '',
	admin_decision VARCHAR(32) NOT NULL DEFAULT '',
	score DOUBLE PRECISION NOT NULL DEFAULT 0,
	verification_date TIMESTAMPTZ NOT NULL,
	has_admin_remarks BOOLEAN NOT NULL DEFAULT FALSE,
	narrative TEXT NOT NULL,
	embedding vector NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// EnsureSchema creates the extension and table if missing.
func (c *DataAPIStore) EnsureSchema(ctx context.Context) error {
	if err := c.EnsureAvailable(ctx); err != nil {
		return err
	}
	for _, stmt := range []string{"CREATE EXTENSION IF NOT EXISTS vector", dataAPISchema} {
		if _, err := c.exec(ctx, stmt, nil); err != nil {
			return fmt.Errorf("EnsureSchema: %w", err)
		}
	}
	return nil
}

// ClusterStatus returns the Aurora cluster status ("available", "stopped",
// ...), or "unknown" when no RDS client is configured.
func (c *DataAPIStore) ClusterStatus(ctx context.Context) (string, error) {
	if c.rdsClient == nil {
		return "unknown", nil
	}
	out, err := c.rdsClient.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{
		DBClusterIdentifier: aws.String(clusterID(c.clusterARN)),
	})
	if err != nil {
		return "unknown", fmt.Errorf("DescribeDBClusters: %w", err)
	}
	if len(out.DBClusters) == 0 {
		return "not-found", nil
	}
	return aws.ToString(out.DBClusters[0].Status), nil
}

// EnsureAvailable starts a stopped cluster. It does not wait for it; calls
// made while the cluster is starting fail and the index degrades to no
// context for that run.
func (c *DataAPIStore) EnsureAvailable(ctx context.Context) error {
	status, err := c.ClusterStatus(ctx)
	if err != nil {
		return err
	}
	if status != "stopped" {
		return nil
	}
	_, err = c.rdsClient.StartDBCluster(ctx, &rds.StartDBClusterInput{
		DBClusterIdentifier: aws.String(clusterID(c.clusterARN)),
	})
	if err != nil {
		return fmt.Errorf("StartDBCluster: %w", err)
	}
	log.Info().Str("cluster", clusterID(c.clusterARN)).Msg("Started Aurora cluster")
	return fmt.Errorf("aurora cluster is starting")
}

// clusterID extracts the identifier from an ARN (DescribeDBClusters accepts either).
func clusterID(arn string) string {
	if idx := strings.LastIndex(arn, ":"); idx >= 0 && idx < len(arn)-1 {
		return arn[idx+1:]
	}
	return arn
}

func formatVector(emb []float32) string {
	if len(emb) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range emb {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func (c *DataAPIStore) exec(ctx context.Context, sql string, params []rdsdatatypes.SqlParameter) (*rdsdata.ExecuteStatementOutput, error) {
	return c.client.ExecuteStatement(ctx, &rdsdata.ExecuteStatementInput{
		ResourceArn:           aws.String(c.clusterARN),
		SecretArn:             aws.String(c.secretARN),
		Database:              aws.String(c.database),
		Sql:                   aws.String(sql),
		Parameters:            params,
		IncludeResultMetadata: true,
	})
}

func strParam(name, value string) rdsdatatypes.SqlParameter {
	return rdsdatatypes.SqlParameter{Name: aws.String(name), Value: &rdsdatatypes.FieldMemberStringValue{Value: value}}
}

// Append inserts one case.
func (c *DataAPIStore) Append(ctx context.Context, hc HistoricalCase) error {
	dim, err := c.dimension(ctx)
	if err != nil {
		return err
	}
	if dim != 0 && dim != len(hc.Embedding) {
		return ErrDimensionMismatch
	}

	sql := `INSERT INTO historical_cases (collection, case_id, student_id, district, final_decision, ai_decision, admin_decision, score, verification_date, has_admin_remarks, narrative, embedding)
		VALUES (:collection, :case_id, :student_id, :district, :final_decision, :ai_decision, :admin_decision, :score, :verification_date::timestamptz, :has_admin_remarks, :narrative, :embedding::vector)`
	params := []rdsdatatypes.SqlParameter{
		strParam("collection", c.collection),
		strParam("case_id", hc.CaseID),
		strParam("student_id", hc.Metadata.StudentID),
		strParam("district", hc.Metadata.District),
		strParam("final_decision", hc.Metadata.FinalDecision),
		strParam("ai_decision", hc.Metadata.AIDecision),
		strParam("admin_decision", hc.Metadata.AdminDecision),
		{Name: aws.String("score"), Value: &rdsdatatypes.FieldMemberDoubleValue{Value: hc.Metadata.Score}},
		strParam("verification_date", hc.Metadata.VerificationDate.UTC().Format(time.RFC3339)),
		{Name: aws.String("has_admin_remarks"), Value: &rdsdatatypes.FieldMemberBooleanValue{Value: hc.Metadata.HasAdminRemarks}},
		strParam("narrative", hc.NarrativeText),
		strParam("embedding", formatVector(hc.Embedding)),
	}
	if _, err := c.exec(ctx, sql, params); err != nil {
		log.Error().Err(err).Str("caseId", hc.CaseID).Msg("Append case failed")
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}

// Query orders by cosine distance in Aurora. The query embedding is checked
// against the stored dimension first, as pgvector refuses mixed dimensions.
func (c *DataAPIStore) Query(ctx context.Context, embedding []float32, filter Filter, k int) ([]Match, error) {
	dim, err := c.dimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return []Match{}, nil
	}
	if dim != len(embedding) {
		return nil, ErrDimensionMismatch
	}

	sql := `SELECT case_id, student_id, district, final_decision, ai_decision, admin_decision, score,
		to_char(verification_date AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"') AS verification_date,
		has_admin_remarks, narrative, embedding <=> :emb::vector AS distance
		FROM historical_cases WHERE collection = :collection`
	params := []rdsdatatypes.SqlParameter{
		strParam("emb", formatVector(embedding)),
		strParam("collection", c.collection),
		{Name: aws.String("topk"), Value: &rdsdatatypes.FieldMemberLongValue{Value: int64(k)}},
	}
	if filter.District != "" {
		sql += ` AND district = :district`
		params = append(params, strParam("district", filter.District))
	}
	sql += ` ORDER BY embedding <=> :emb::vector, id LIMIT :topk`

	result, err := c.exec(ctx, sql, params)
	if err != nil {
		log.Error().Err(err).Str("collection", c.collection).Msg("QuerySimilar failed")
		return nil, fmt.Errorf("QuerySimilar: %w", err)
	}

	matches := make([]Match, 0, len(result.Records))
	for _, rec := range result.Records {
		row := make(map[string]interface{})
		for i, col := range result.ColumnMetadata {
			if i >= len(rec) {
				break
			}
			row[aws.ToString(col.Name)] = fieldValue(rec[i])
		}
		matches = append(matches, matchFromRow(row))
	}
	return matches, nil
}

// Count returns the number of cases in the collection.
func (c *DataAPIStore) Count(ctx context.Context) (int, error) {
	result, err := c.exec(ctx, `SELECT COUNT(*) FROM historical_cases WHERE collection = :collection`,
		[]rdsdatatypes.SqlParameter{strParam("collection", c.collection)})
	if err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	if len(result.Records) == 0 || len(result.Records[0]) == 0 {
		return 0, nil
	}
	n, _ := fieldValue(result.Records[0][0]).(int64)
	return int(n), nil
}

func (c *DataAPIStore) Location() string { return c.clusterARN }

func (c *DataAPIStore) Close() error { return nil }

func (c *DataAPIStore) dimension(ctx context.Context) (int, error) {
	result, err := c.exec(ctx,
		`SELECT vector_dims(embedding) FROM historical_cases WHERE collection = :collection ORDER BY id LIMIT 1`,
		[]rdsdatatypes.SqlParameter{strParam("collection", c.collection)})
	if err != nil {
		return 0, fmt.Errorf("read dimension: %w", err)
	}
	if len(result.Records) == 0 || len(result.Records[0]) == 0 {
		return 0, nil
	}
	n, _ := fieldValue(result.Records[0][0]).(int64)
	return int(n), nil
}

func fieldValue(f rdsdatatypes.Field) interface{} {
	switch v := f.(type) {
	case *rdsdatatypes.FieldMemberStringValue:
		return v.Value
	case *rdsdatatypes.FieldMemberLongValue:
		return v.Value
	case *rdsdatatypes.FieldMemberBooleanValue:
		return v.Value
	case *rdsdatatypes.FieldMemberDoubleValue:
		return v.Value
	case *rdsdatatypes.FieldMemberIsNull:
		return nil
	case *rdsdatatypes.FieldMemberArrayValue:
		return v.Value
	case *rdsdatatypes.FieldMemberBlobValue:
		return v.Value
	default:
		return v
	}
}

func matchFromRow(row map[string]interface{}) Match {
	str := func(k string) string { s, _ := row[k].(string); return s }
	num := func(k string) float64 {
		switch v := row[k].(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		case string:
			f, _ := strconv.ParseFloat(v, 64)
			return f
		}
		return 0
	}
	remarks, _ := row["has_admin_remarks"].(bool)
	verDate, _ := time.Parse(time.RFC3339, str("verification_date"))

	return Match{
		Case: HistoricalCase{
			CaseID:        str("case_id"),
			NarrativeText: str("narrative"),
			Metadata: CaseMetadata{
				StudentID:        str("student_id"),
				District:         str("district"),
				FinalDecision:    str("final_decision"),
				AIDecision:       str("ai_decision"),
				AdminDecision:    str("admin_decision"),
				Score:            num("score"),
				VerificationDate: verDate,
				HasAdminRemarks:  remarks,
			},
		},
		Distance: num("distance"),
	}
}
