package searchclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	elastic "github.com/olivere/elastic/v7"

	"github.com/nanaya/osu-elastic-indexer/metadata"
	"github.com/nanaya/osu-elastic-indexer/record"
	"github.com/nanaya/osu-elastic-indexer/x"
)

var log = x.Log("searchclient")

// Elastic implements Client against a real Elasticsearch cluster via
// olivere/elastic/v7, the actively maintained successor to the teacher's
// gopkg.in/olivere/elastic.v2 dependency.
type Elastic struct {
	client  *elastic.Client
	mapping []byte
}

// NewElastic dials url and verifies connectivity, the way the teacher's
// Elastic.Init does, but returns an error instead of calling log.Fatal so
// callers control process lifetime. mapping is the raw JSON body (see
// schemas/scores.json) used to create new indices.
func NewElastic(ctx context.Context, url string, mapping []byte) (*Elastic, error) {
	client, err := elastic.NewClient(
		elastic.SetURL(url),
		elastic.SetSniff(false),
	)
	if err != nil {
		return nil, x.Wrap(err, "connecting to search cluster")
	}
	version, err := client.ElasticsearchVersion(url)
	if err != nil {
		return nil, x.Wrap(err, "querying search cluster version")
	}
	log.WithField("version", version).Debug("connected to search cluster")
	return &Elastic{client: client, mapping: mapping}, nil
}

// FindOrCreateIndex implements §4.4 cases 1-3.
func (es *Elastic) FindOrCreateIndex(ctx context.Context, alias, schemaTag string) (IndexName, metadata.Metadata, bool, error) {
	candidates, err := es.IndicesByPrefix(ctx, alias)
	if err != nil {
		return "", metadata.Metadata{}, false, err
	}

	var matching []IndexName
	metaByIndex := make(map[IndexName]metadata.Metadata)
	for _, idx := range candidates {
		m, err := es.Load(ctx, string(idx))
		if err != nil {
			return "", metadata.Metadata{}, false, err
		}
		if m == nil || m.Schema != schemaTag {
			continue
		}
		matching = append(matching, idx)
		metaByIndex[idx] = *m
	}

	if len(matching) > 0 {
		aliased, err := es.IndicesPointingTo(ctx, alias)
		if err != nil {
			return "", metadata.Metadata{}, false, err
		}
		aliasedSet := make(map[IndexName]bool, len(aliased))
		for _, a := range aliased {
			aliasedSet[a] = true
		}
		for _, idx := range matching {
			if aliasedSet[idx] {
				return idx, metaByIndex[idx], true, nil
			}
		}

		sort.Slice(matching, func(i, j int) bool {
			mi, mj := metaByIndex[matching[i]], metaByIndex[matching[j]]
			if matching[i] != matching[j] && mi.UpdatedAt.Equal(mj.UpdatedAt) {
				return matching[i] < matching[j]
			}
			return mi.UpdatedAt.After(mj.UpdatedAt)
		})
		return matching[0], metaByIndex[matching[0]], false, nil
	}

	return es.createIndex(ctx, alias, schemaTag)
}

func (es *Elastic) createIndex(ctx context.Context, alias, schemaTag string) (IndexName, metadata.Metadata, bool, error) {
	suffix := time.Now().UTC().Format("20060102150405")
	index := IndexName(fmt.Sprintf("%s_%s", alias, suffix))

	create, err := es.client.CreateIndex(string(index)).
		Body(string(es.mapping)).
		Do(ctx)
	if err != nil {
		return "", metadata.Metadata{}, false, x.Wrapf(err, "creating index %s", index)
	}
	if !create.Acknowledged {
		log.WithField("index", index).Warn("create index not acknowledged")
	}

	m := metadata.Metadata{
		Schema:    schemaTag,
		State:     metadata.StateBuilding,
		UpdatedAt: time.Now().UTC(),
	}
	if err := es.Save(ctx, string(index), m); err != nil {
		return "", metadata.Metadata{}, false, err
	}
	return index, m, false, nil
}

// Load implements metadata.Store by reading the "_meta" block of index's
// mapping.
func (es *Elastic) Load(ctx context.Context, index string) (*metadata.Metadata, error) {
	resp, err := es.client.GetMapping().Index(index).Do(ctx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return nil, nil
		}
		return nil, x.Wrapf(err, "loading mapping for %s", index)
	}
	raw, ok := resp[index]
	if !ok {
		return nil, nil
	}
	mapObj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, nil
	}
	mappings, ok := mapObj["mappings"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	metaObj, ok := mappings["_meta"]
	if !ok {
		return nil, nil
	}
	b, err := json.Marshal(metaObj)
	if err != nil {
		return nil, x.Wrap(err, "marshalling mapping _meta")
	}
	var m metadata.Metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, x.Wrap(err, "decoding mapping _meta")
	}
	return &m, nil
}

// Save implements metadata.Store by merging m into the "_meta" block of
// index's mapping. PutMapping merges rather than replaces field
// mappings, so existing field definitions survive.
func (es *Elastic) Save(ctx context.Context, index string, m metadata.Metadata) error {
	m.UpdatedAt = time.Now().UTC()
	body := map[string]interface{}{"_meta": m}
	_, err := es.client.PutMapping().Index(index).BodyJson(body).Do(ctx)
	if err != nil {
		return x.Wrapf(err, "saving metadata for %s", index)
	}
	return nil
}

// BulkIndex implements Client.BulkIndex.
func (es *Elastic) BulkIndex(ctx context.Context, index IndexName, adds, deletes []record.Record) (BulkResult, error) {
	svc := es.client.Bulk().Index(string(index))
	for _, r := range adds {
		svc.Add(elastic.NewBulkIndexRequest().Id(r.DocumentID()).Doc(r))
	}
	for _, r := range deletes {
		svc.Add(elastic.NewBulkDeleteRequest().Id(r.DocumentID()))
	}
	if svc.NumberOfActions() == 0 {
		return BulkResult{}, nil
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return BulkResult{}, x.Wrapf(err, "bulk request against %s", index)
	}
	return classifyBulkResponse(resp), nil
}

func classifyBulkResponse(resp *elastic.BulkResponse) BulkResult {
	var out BulkResult
	for _, group := range resp.Items {
		for _, item := range group {
			out.Items = append(out.Items, classifyBulkItem(item))
		}
	}
	return out
}

func classifyBulkItem(item *elastic.BulkResponseItem) BulkItemResult {
	result := BulkItemResult{DocumentID: item.Id, HTTPStatus: item.Status}
	if item.Error == nil {
		result.Status = BulkItemOK
		return result
	}

	result.ErrorType = item.Error.Type
	result.ErrorMsg = item.Error.Reason
	switch {
	case item.Status == 429 || item.Error.Type == "es_rejected_execution_exception":
		result.Status = BulkItemRejectRetry
	case item.Error.Type == "index_closed_exception":
		result.Status = BulkItemIndexClosed
	default:
		result.Status = BulkItemFatal
	}
	return result
}

// UpdateAlias implements Client.UpdateAlias.
func (es *Elastic) UpdateAlias(ctx context.Context, alias string, newIndex IndexName, closePrior bool) error {
	priors, err := es.IndicesPointingTo(ctx, alias)
	if err != nil {
		return err
	}

	svc := es.client.Alias().Add(string(newIndex), alias)
	for _, p := range priors {
		if p == newIndex {
			continue
		}
		svc = svc.Remove(string(p), alias)
	}
	if _, err := svc.Do(ctx); err != nil {
		return x.Wrapf(err, "updating alias %s to %s", alias, newIndex)
	}

	if !closePrior {
		return nil
	}
	for _, p := range priors {
		if p == newIndex {
			continue
		}
		if err := es.CloseIndex(ctx, p); err != nil {
			x.LogErr(log, err).WithField("index", p).Warn("failed to close prior index after alias switch")
		}
	}
	return nil
}

// IndicesPointingTo implements Client.IndicesPointingTo.
func (es *Elastic) IndicesPointingTo(ctx context.Context, alias string) ([]IndexName, error) {
	resp, err := es.client.Aliases().Alias(alias).Do(ctx)
	if err != nil {
		if elastic.IsNotFound(err) {
			return nil, nil
		}
		return nil, x.Wrapf(err, "resolving alias %s", alias)
	}

	names := resp.IndicesByAlias(alias)
	out := make([]IndexName, len(names))
	for i, n := range names {
		out[i] = IndexName(n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// IndicesByPrefix implements Client.IndicesByPrefix.
func (es *Elastic) IndicesByPrefix(ctx context.Context, prefix string) ([]IndexName, error) {
	pattern := prefix + "_*"
	names, err := es.client.CatIndices().Index(pattern).Do(ctx)
	if err != nil {
		return nil, x.Wrapf(err, "listing indices matching %s", pattern)
	}
	out := make([]IndexName, 0, len(names))
	for _, row := range names {
		if !strings.HasPrefix(row.Index, prefix+"_") {
			continue
		}
		out = append(out, IndexName(row.Index))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// CloseIndex implements Client.CloseIndex.
func (es *Elastic) CloseIndex(ctx context.Context, index IndexName) error {
	if _, err := es.client.CloseIndex(string(index)).Do(ctx); err != nil {
		return x.Wrapf(err, "closing index %s", index)
	}
	return nil
}
