package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	logx "sigrelay/pkg/logx"
)

const (
	collUsers   = "users"
	collSession = "sessions"
	collGroups  = "group_configs"
	collAudit   = "audit"
)

type mongoStore struct {
	client *mongo.Client
	users  *mongo.Collection
	sess   *mongo.Collection
	groups *mongo.Collection
	audit  *mongo.Collection
	log    logx.Logger
	now    func() time.Time
}

type userDoc struct {
	ID          int64     `bson:"_id"`
	Username    string    `bson:"username,omitempty"`
	Status      string    `bson:"status"`
	Destination string    `bson:"destination"`
	TradingBot  string    `bson:"trading_bot"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

type sessionDoc struct {
	ID      int64  `bson:"_id"`
	Session []byte `bson:"session"`
}

type groupDoc struct {
	UserID  int64  `bson:"user_id"`
	GroupID int64  `bson:"group_id"`
	Label   string `bson:"label"`
	Key     string `bson:"key"`
}

func openMongo(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	dbName := strings.TrimSpace(cfg.Database)
	if dbName == "" {
		dbName = "sigrelay"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri).SetTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(dbName)
	st := &mongoStore{
		client: client,
		users:  db.Collection(collUsers),
		sess:   db.Collection(collSession),
		groups: db.Collection(collGroups),
		audit:  db.Collection(collAudit),
		log:    log,
		now:    time.Now,
	}
	_, err = st.groups.Indexes().CreateOne(cctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "group_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		log.Warn("mongo index create failed", logx.Err(err))
	}
	log.Info("mongo store opened", logx.String("database", dbName))
	return st, nil
}

func (s *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *mongoStore) ensure(ctx context.Context, id int64) error {
	now := s.now()
	_, err := s.users.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$setOnInsert": bson.M{
			"status":      string(StatusUnauthenticated),
			"destination": "",
			"trading_bot": "",
			"created_at":  now,
			"updated_at":  now,
		}},
		options.Update().SetUpsert(true))
	return err
}

func (s *mongoStore) setUser(ctx context.Context, id int64, fields bson.M) error {
	if err := s.ensure(ctx, id); err != nil {
		return err
	}
	fields["updated_at"] = s.now()
	_, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": fields})
	return err
}

func (s *mongoStore) GetCredential(ctx context.Context, id int64) ([]byte, bool, error) {
	var doc sessionDoc
	err := s.sess.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc.Session, len(doc.Session) > 0, nil
}

func (s *mongoStore) PutCredential(ctx context.Context, id int64, cred []byte) error {
	if err := s.ensure(ctx, id); err != nil {
		return err
	}
	_, err := s.sess.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"session": cred}}, options.Update().SetUpsert(true))
	return err
}

func (s *mongoStore) DeleteCredential(ctx context.Context, id int64) error {
	_, err := s.sess.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

func (s *mongoStore) GetRouting(ctx context.Context, id int64) (Routing, error) {
	cur, err := s.groups.Find(ctx, bson.M{"user_id": id})
	if err != nil {
		return Routing{}, err
	}
	var docs []groupDoc
	if err := cur.All(ctx, &docs); err != nil {
		return Routing{}, err
	}
	out := Routing{Groups: make(map[int64]Notifier, len(docs))}
	for _, d := range docs {
		out.Groups[d.GroupID] = Notifier{Label: d.Label, Key: d.Key}
	}
	return out, nil
}

func (s *mongoStore) PutRouting(ctx context.Context, id int64, p RoutingPatch) error {
	for gid, n := range p.SetNotifier {
		_, err := s.groups.UpdateOne(ctx,
			bson.M{"user_id": id, "group_id": gid},
			bson.M{"$set": bson.M{"label": n.Label, "key": n.Key}},
			options.Update().SetUpsert(true))
		if err != nil {
			return err
		}
		_, err = s.groups.UpdateMany(ctx,
			bson.M{"user_id": id, "label": n.Label},
			bson.M{"$set": bson.M{"key": n.Key}})
		if err != nil {
			return err
		}
	}
	if len(p.RemoveGroups) > 0 {
		_, err := s.groups.DeleteMany(ctx, bson.M{"user_id": id, "group_id": bson.M{"$in": p.RemoveGroups}})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *mongoStore) GetOrCreateTenant(ctx context.Context, id int64, username string) (Tenant, error) {
	if err := s.ensure(ctx, id); err != nil {
		return Tenant{}, err
	}
	if username != "" {
		_, err := s.users.UpdateOne(ctx,
			bson.M{"_id": id, "username": bson.M{"$ne": username}},
			bson.M{"$set": bson.M{"username": username, "updated_at": s.now()}})
		if err != nil {
			return Tenant{}, err
		}
	}
	return s.GetTenant(ctx, id)
}

func (s *mongoStore) GetTenant(ctx context.Context, id int64) (Tenant, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, err
	}
	return Tenant{
		ID:          doc.ID,
		Username:    doc.Username,
		Status:      Status(doc.Status),
		Destination: doc.Destination,
		TradingBot:  doc.TradingBot,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}, nil
}

func (s *mongoStore) UpdateTenant(ctx context.Context, id int64, p TenantPatch) error {
	fields := bson.M{}
	if p.Username != nil {
		fields["username"] = *p.Username
	}
	if p.Destination != nil {
		fields["destination"] = *p.Destination
	}
	if p.TradingBot != nil {
		fields["trading_bot"] = *p.TradingBot
	}
	return s.setUser(ctx, id, fields)
}

func (s *mongoStore) SetStatus(ctx context.Context, id int64, st Status) error {
	return s.setUser(ctx, id, bson.M{"status": string(st)})
}

func (s *mongoStore) ListAuthenticated(ctx context.Context) ([]int64, error) {
	cur, err := s.users.Find(ctx, bson.M{"status": string(StatusAuthenticated)},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	var users []userDoc
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}

	cur, err = s.sess.Find(ctx, bson.M{"_id": bson.M{"$in": ids}, "session": bson.M{"$exists": true}},
		options.Find().SetProjection(bson.M{"_id": 1, "session": 1}))
	if err != nil {
		return nil, err
	}
	var sessions []sessionDoc
	if err := cur.All(ctx, &sessions); err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(sessions))
	for _, d := range sessions {
		if len(d.Session) > 0 {
			out = append(out, d.ID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *mongoStore) ResetConfig(ctx context.Context, id int64) error {
	if err := s.setUser(ctx, id, bson.M{"destination": "", "trading_bot": ""}); err != nil {
		return err
	}
	_, err := s.groups.DeleteMany(ctx, bson.M{"user_id": id})
	return err
}

func (s *mongoStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	doc := bson.M{
		"at":        e.At,
		"tenant_id": e.TenantID,
		"action":    e.Action,
	}
	if e.Username != "" {
		doc["username"] = e.Username
	}
	if e.Target != "" {
		doc["target"] = e.Target
	}
	if e.Error != "" {
		doc["err"] = e.Error
	}
	_, err := s.audit.InsertOne(ctx, doc)
	return err
}
