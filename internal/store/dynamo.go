package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/scholarship-verification/internal/pipeline"
)

// DynamoDB key layout: jobs live at PK=JOB#{id}, SK=META; the submission
// lock for a pair lives at PK=PV#{student}#{volunteer}, SK=LOCK. Both carry
// an expiresAt TTL attribute.
const (
	jobPKPrefix = "JOB#"
	skMeta      = "META"
	skLock      = "LOCK"
)

// DynamoStore implements JobStore on a single DynamoDB table with
// conditional writes.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
	now       func() time.Time
}

var _ JobStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName, now: time.Now}
}

func jobPK(id string) string {
	return jobPKPrefix + id
}

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func epoch(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

// Begin writes the job and the lock in one transaction. The lock put is
// conditional on no lock existing, or the existing one having expired.
func (s *DynamoStore) Begin(ctx context.Context, job *Job) error {
	now := s.now()
	job.Status = StatusPending
	job.CreatedAt, job.UpdatedAt = now, now

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: jobPK(job.ID)}
	item["SK"] = &types.AttributeValueMemberS{Value: skMeta}
	item["expiresAt"] = epoch(now.Add(JobTTL))

	lockKey := LockKey(job.StudentID, job.VolunteerID)
	lock := keyOf(lockKey, skLock)
	lock["jobId"] = &types.AttributeValueMemberS{Value: job.ID}
	lock["expiresAt"] = epoch(now.Add(JobTTL))

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           &s.tableName,
				Item:                lock,
				ConditionExpression: aws.String("attribute_not_exists(PK) OR expiresAt < :now"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":now": epoch(now),
				},
			}},
			{Put: &types.Put{
				TableName:           &s.tableName,
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
		},
	})
	if err != nil {
		if isConditionFailure(err) {
			log.Debug().Str("lock", lockKey).Str("jobId", job.ID).Msg("Job lock held by another submission")
			return ErrInProgress
		}
		return fmt.Errorf("TransactWriteItems lock=%s job=%s: %w", lockKey, job.ID, err)
	}

	log.Debug().Str("jobId", job.ID).Str("lock", lockKey).Msg("Job lock acquired")
	return nil
}

func (s *DynamoStore) MarkRunning(ctx context.Context, id string) error {
	_, err := s.transition(ctx, id, StatusProcessing, nil)
	return err
}

func (s *DynamoStore) Complete(ctx context.Context, id string, out *pipeline.Output) error {
	extra := map[string]types.AttributeValue{}
	if out != nil {
		av, err := attributevalue.Marshal(out)
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		extra["output"] = av
	}
	job, err := s.transition(ctx, id, StatusDone, extra)
	if err != nil {
		return err
	}
	s.releaseLock(ctx, job)
	return nil
}

func (s *DynamoStore) Fail(ctx context.Context, id, reason string) error {
	job, err := s.transition(ctx, id, StatusFailed, map[string]types.AttributeValue{
		"error": &types.AttributeValueMemberS{Value: reason},
	})
	if err != nil {
		return err
	}
	s.releaseLock(ctx, job)
	return nil
}

// transition updates status with a condition on the current status and
// returns the updated job.
func (s *DynamoStore) transition(ctx context.Context, id, to string, extra map[string]types.AttributeValue) (*Job, error) {
	update := "SET #status = :to, updatedAt = :now"
	names := map[string]string{"#status": "status"}
	values := map[string]types.AttributeValue{
		":to":  &types.AttributeValueMemberS{Value: to},
		":now": &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
	}
	for attr, v := range extra {
		update += fmt.Sprintf(", #%s = :%s", attr, attr)
		names["#"+attr] = attr
		values[":"+attr] = v
	}

	cond := "attribute_exists(PK) AND #status IN ("
	for i, from := range allowedFrom[to] {
		if i > 0 {
			cond += ", "
		}
		ph := fmt.Sprintf(":from%d", i)
		cond += ph
		values[ph] = &types.AttributeValueMemberS{Value: from}
	}
	cond += ")"

	result, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           &s.tableName,
		Key:                                 keyOf(jobPK(id), skMeta),
		UpdateExpression:                    aws.String(update),
		ConditionExpression:                 aws.String(cond),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return nil, ErrNotFound
			}
			var current Job
			_ = attributevalue.UnmarshalMap(ccf.Item, &current)
			return nil, transitionError(id, current.Status, to)
		}
		return nil, fmt.Errorf("UpdateItem job=%s: %w", id, err)
	}

	var job Job
	if err := attributevalue.UnmarshalMap(result.Attributes, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	log.Debug().Str("jobId", id).Str("status", to).Msg("Job status updated")
	return &job, nil
}

// releaseLock deletes the pair's lock if this job still holds it. Failure
// only delays the next submission until the lock TTL passes.
func (s *DynamoStore) releaseLock(ctx context.Context, job *Job) {
	lockKey := LockKey(job.StudentID, job.VolunteerID)
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           &s.tableName,
		Key:                 keyOf(lockKey, skLock),
		ConditionExpression: aws.String("jobId = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: job.ID},
		},
	})
	if err != nil && !isConditionFailure(err) {
		log.Warn().Err(err).Str("lock", lockKey).Str("jobId", job.ID).Msg("Failed to release job lock")
	}
}

func (s *DynamoStore) Get(ctx context.Context, id string) (*Job, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       keyOf(jobPK(id), skMeta),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem job=%s: %w", id, err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	var job Job
	if err := attributevalue.UnmarshalMap(result.Item, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

// isConditionFailure reports whether err is a failed condition, either on a
// single write or inside a cancelled transaction.
func isConditionFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, r := range tce.CancellationReasons {
			if aws.ToString(r.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}
