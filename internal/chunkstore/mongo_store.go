package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"paperrag/internal/config"
)

type mongoStore struct {
	client  *mongo.Client
	docs    *mongo.Collection
	chunks  *mongo.Collection
	timeout time.Duration
}

// NewMongoStore connects to Mongo and returns a Store backed by it,
// creating the indexes the lookups below depend on.
func NewMongoStore(ctx context.Context, cfg config.MongoConfig) (Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("chunkstore: mongo uri is required")
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("chunkstore: connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("chunkstore: ping mongo: %w", err)
	}
	docsColl := cfg.DocsColl
	if docsColl == "" {
		docsColl = "documents"
	}
	chunksColl := cfg.ChunksColl
	if chunksColl == "" {
		chunksColl = "chunks"
	}
	db := client.Database(cfg.Database)
	s := &mongoStore{
		client:  client,
		docs:    db.Collection(docsColl),
		chunks:  db.Collection(chunksColl),
		timeout: timeout,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("chunkstore: ensure indexes: %w", err)
	}
	return s, nil
}

func (s *mongoStore) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.docs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "content_hash", Value: 1}},
		Options: options.Index(),
	}); err != nil {
		return err
	}
	_, err := s.chunks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "document_id", Value: 1}, {Key: "ordinal", Value: 1}},
		Options: options.Index(),
	})
	return err
}

func (s *mongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

type documentDoc struct {
	ID              string    `bson:"_id"`
	OwnerID         string    `bson:"owner_id"`
	Filename        string    `bson:"filename"`
	StoredBlobPath  string    `bson:"stored_blob_path"`
	FileSize        int64     `bson:"file_size"`
	ContentHash     string    `bson:"content_hash"`
	Status          string    `bson:"status"`
	EmbeddingStatus string    `bson:"embedding_status"`
	SummaryStatus   string    `bson:"summary_status"`
	ReferenceStatus string    `bson:"reference_status"`
	SkimmingStatus  string    `bson:"skimming_status"`
	ErrorMessage    string    `bson:"error_message,omitempty"`
	PageCount       int       `bson:"page_count"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func fromDocument(d Document) documentDoc {
	return documentDoc{
		ID:              d.ID,
		OwnerID:         d.OwnerID,
		Filename:        d.Filename,
		StoredBlobPath:  d.StoredBlobPath,
		FileSize:        d.FileSize,
		ContentHash:     d.ContentHash,
		Status:          string(d.Status),
		EmbeddingStatus: string(d.EmbeddingStatus),
		SummaryStatus:   string(d.SummaryStatus),
		ReferenceStatus: string(d.ReferenceStatus),
		SkimmingStatus:  string(d.SkimmingStatus),
		ErrorMessage:    d.ErrorMessage,
		PageCount:       d.PageCount,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func (d documentDoc) toDocument() Document {
	return Document{
		ID:              d.ID,
		OwnerID:         d.OwnerID,
		Filename:        d.Filename,
		StoredBlobPath:  d.StoredBlobPath,
		FileSize:        d.FileSize,
		ContentHash:     d.ContentHash,
		Status:          DocumentStatus(d.Status),
		EmbeddingStatus: FeatureStatus(d.EmbeddingStatus),
		SummaryStatus:   FeatureStatus(d.SummaryStatus),
		ReferenceStatus: FeatureStatus(d.ReferenceStatus),
		SkimmingStatus:  FeatureStatus(d.SkimmingStatus),
		ErrorMessage:    d.ErrorMessage,
		PageCount:       d.PageCount,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func (s *mongoStore) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		id, err := NewDocumentID()
		if err != nil {
			return Document{}, err
		}
		doc.ID = id
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.docs.InsertOne(ctx, fromDocument(doc)); err != nil {
		return Document{}, fmt.Errorf("chunkstore: insert document: %w", err)
	}
	return doc, nil
}

func (s *mongoStore) GetDocument(ctx context.Context, id string) (Document, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var d documentDoc
	err := s.docs.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("chunkstore: get document: %w", err)
	}
	return d.toDocument(), true, nil
}

func (s *mongoStore) FindDocumentByContentHash(ctx context.Context, ownerID, hash string) (Document, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var d documentDoc
	err := s.docs.FindOne(ctx, bson.M{"owner_id": ownerID, "content_hash": hash}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("chunkstore: find document by hash: %w", err)
	}
	return d.toDocument(), true, nil
}

func (s *mongoStore) FindDocumentByFilename(ctx context.Context, ownerID, filename string) (Document, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var d documentDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	err := s.docs.FindOne(ctx, bson.M{"owner_id": ownerID, "filename": filename}, opts).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("chunkstore: find document by filename: %w", err)
	}
	return d.toDocument(), true, nil
}

func (s *mongoStore) UpdateDocument(ctx context.Context, doc Document) error {
	doc.UpdatedAt = time.Now().UTC()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.docs.ReplaceOne(ctx, bson.M{"_id": doc.ID}, fromDocument(doc))
	if err != nil {
		return fmt.Errorf("chunkstore: update document: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) DeleteDocument(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.docs.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("chunkstore: delete document: %w", err)
	}
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": id}); err != nil {
		return fmt.Errorf("chunkstore: delete chunks: %w", err)
	}
	return nil
}

type imageAssetDoc struct {
	Caption    string `bson:"caption,omitempty"`
	FigureID   string `bson:"figure_id,omitempty"`
	BlobPath   string `bson:"blob_path,omitempty"`
	PreviewURL string `bson:"preview_url,omitempty"`
}

type tableAssetDoc struct {
	Label      string `bson:"label,omitempty"`
	BlobPath   string `bson:"blob_path,omitempty"`
	PreviewTxt string `bson:"preview_text,omitempty"`
}

type chunkDoc struct {
	ID         string          `bson:"_id"`
	DocumentID string          `bson:"document_id"`
	Ordinal    int             `bson:"ordinal"`
	Page       int             `bson:"page"`
	Section    string          `bson:"section"`
	Text       string          `bson:"text"`
	Images     []imageAssetDoc `bson:"images,omitempty"`
	Tables     []tableAssetDoc `bson:"tables,omitempty"`
}

func fromChunk(c Chunk) chunkDoc {
	images := make([]imageAssetDoc, len(c.Images))
	for i, img := range c.Images {
		images[i] = imageAssetDoc{Caption: img.Caption, FigureID: img.FigureID, BlobPath: img.BlobPath, PreviewURL: img.PreviewURL}
	}
	tables := make([]tableAssetDoc, len(c.Tables))
	for i, t := range c.Tables {
		tables[i] = tableAssetDoc{Label: t.Label, BlobPath: t.BlobPath, PreviewTxt: t.PreviewTxt}
	}
	return chunkDoc{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		Ordinal:    c.Ordinal,
		Page:       c.Page,
		Section:    c.Section,
		Text:       c.Text,
		Images:     images,
		Tables:     tables,
	}
}

func (d chunkDoc) toChunk() Chunk {
	images := make([]ImageAsset, len(d.Images))
	for i, img := range d.Images {
		images[i] = ImageAsset{Caption: img.Caption, FigureID: img.FigureID, BlobPath: img.BlobPath, PreviewURL: img.PreviewURL}
	}
	tables := make([]TableAsset, len(d.Tables))
	for i, t := range d.Tables {
		tables[i] = TableAsset{Label: t.Label, BlobPath: t.BlobPath, PreviewTxt: t.PreviewTxt}
	}
	return Chunk{
		ID:         d.ID,
		DocumentID: d.DocumentID,
		Ordinal:    d.Ordinal,
		Page:       d.Page,
		Section:    d.Section,
		Text:       d.Text,
		Images:     images,
		Tables:     tables,
	}
}

func (s *mongoStore) PutChunks(ctx context.Context, documentID string, chunks []Chunk) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": documentID}); err != nil {
		return fmt.Errorf("chunkstore: clear chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}
	docs := make([]any, len(chunks))
	for i, c := range chunks {
		docs[i] = fromChunk(c)
	}
	if _, err := s.chunks.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("chunkstore: insert chunks: %w", err)
	}
	return nil
}

func (s *mongoStore) ListChunks(ctx context.Context, documentID string) ([]Chunk, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.chunks.Find(ctx, bson.M{"document_id": documentID}, options.Find().SetSort(bson.D{{Key: "ordinal", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("chunkstore: list chunks: %w", err)
	}
	defer cur.Close(context.Background())
	var out []Chunk
	for cur.Next(ctx) {
		var d chunkDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("chunkstore: decode chunk: %w", err)
		}
		out = append(out, d.toChunk())
	}
	return out, cur.Err()
}

func (s *mongoStore) GetChunks(ctx context.Context, ids []string) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.chunks.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("chunkstore: get chunks: %w", err)
	}
	defer cur.Close(context.Background())
	var out []Chunk
	for cur.Next(ctx) {
		var d chunkDoc
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("chunkstore: decode chunk: %w", err)
		}
		out = append(out, d.toChunk())
	}
	return out, cur.Err()
}

// Close disconnects the underlying Mongo client.
func (s *mongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
