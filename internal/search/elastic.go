package search

import (
	"context"
	"fmt"

	"github.com/olivere/elastic/v7"
)

// ElasticBackend stores documents in Elasticsearch, one index per table.
type ElasticBackend struct {
	client *elastic.Client
}

// NewElasticBackend connects to the cluster at url. Sniffing is disabled so a
// single node behind a proxy or in a container works.
func NewElasticBackend(ctx context.Context, url string) (*ElasticBackend, error) {
	client, err := elastic.NewClient(
		elastic.SetURL(url),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false),
	)
	if err != nil {
		return nil, fmt.Errorf("connect elasticsearch: %w", err)
	}
	if _, _, err := client.Ping(url).Do(ctx); err != nil {
		return nil, fmt.Errorf("ping elasticsearch: %w", err)
	}
	return &ElasticBackend{client: client}, nil
}

func (b *ElasticBackend) Index(ctx context.Context, index, id string, fields map[string]interface{}) error {
	_, err := b.client.Index().Index(index).Id(id).BodyJson(fields).Do(ctx)
	return err
}

// Delete treats a missing document as already deleted.
func (b *ElasticBackend) Delete(ctx context.Context, index, id string) error {
	_, err := b.client.Delete().Index(index).Id(id).Do(ctx)
	if err != nil && !elastic.IsNotFound(err) {
		return err
	}
	return nil
}

// Search runs a multi_match over every indexed field and returns ids in score order.
func (b *ElasticBackend) Search(ctx context.Context, index, query string, offset, limit int) ([]string, int64, error) {
	res, err := b.client.Search().
		Index(index).
		Query(elastic.NewMultiMatchQuery(query, "*")).
		From(offset).
		Size(limit).
		Do(ctx)
	if err != nil {
		// index is created lazily by the first write
		if elastic.IsNotFound(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	if res.Hits == nil {
		return nil, 0, nil
	}
	ids := make([]string, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		ids = append(ids, hit.Id)
	}
	return ids, res.TotalHits(), nil
}
