package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"propval/internal/models"
	"propval/internal/valuation"
)

var (
	modelKind     string
	modelFeatures []string
	filterCities  []string
	trainSeed     int64
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train and store a valuation model",
	RunE:  runTrain,
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict the price of a partially described property",
	Long: `Predict uses the stored model of the requested kind and trains one on
the feed when none is stored. Attributes that are not given are imputed.`,
	RunE: runPredict,
}

var predictInput struct {
	city         string
	propertyType string
	bedrooms     int
	bathrooms    float64
	sqft         float64
	yearBuilt    int
	latitude     float64
	longitude    float64
}

func init() {
	rootCmd.AddCommand(trainCmd, predictCmd)

	for _, cmd := range []*cobra.Command{trainCmd, predictCmd} {
		cmd.Flags().StringVar(&modelKind, "kind", string(valuation.KindRandomForest), "Model kind (random_forest|gradient_boosting|linear)")
		cmd.Flags().StringSliceVar(&modelFeatures, "features", nil, "Features to train on (default: all usable)")
		cmd.Flags().StringSliceVar(&filterCities, "city-filter", nil, "Only train on listings in these cities")
	}
	trainCmd.Flags().Int64Var(&trainSeed, "seed", 0, "Split seed (default 42)")

	f := predictCmd.Flags()
	f.StringVar(&predictInput.city, "city", "", "City")
	f.StringVar(&predictInput.propertyType, "type", "", "Property type")
	f.IntVar(&predictInput.bedrooms, "bedrooms", 0, "Bedrooms")
	f.Float64Var(&predictInput.bathrooms, "bathrooms", 0, "Bathrooms")
	f.Float64Var(&predictInput.sqft, "sqft", 0, "Living area")
	f.IntVar(&predictInput.yearBuilt, "year-built", 0, "Year built")
	f.Float64Var(&predictInput.latitude, "lat", 0, "Latitude")
	f.Float64Var(&predictInput.longitude, "lon", 0, "Longitude")
}

func trainFilter() *models.PropertyFilter {
	if len(filterCities) == 0 {
		return nil
	}
	return &models.PropertyFilter{Cities: filterCities}
}

func runTrain(cmd *cobra.Command, args []string) error {
	kind, err := valuation.ParseModelKind(modelKind)
	if err != nil {
		return err
	}
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	records, err := e.db.GetProperties(ctx, trainFilter())
	if err != nil {
		return err
	}
	model, err := e.trainer.Train(ctx, records, kind, valuation.TrainOptions{Features: modelFeatures, Seed: trainSeed})
	if err != nil {
		return fmt.Errorf("failed to train %s model: %w", kind, err)
	}

	out := map[string]interface{}{
		"id":       model.ID,
		"kind":     model.Kind,
		"features": model.Features,
		"metrics":  model.Metrics,
	}
	if importance, err := model.FeatureImportance(); err == nil {
		out["importance"] = importance
	}
	return render(os.Stdout, out)
}

// propertyInput builds the prediction input from the flags that were set
func propertyInput(cmd *cobra.Command) models.PropertyInput {
	var in models.PropertyInput
	changed := cmd.Flags().Changed
	if changed("city") {
		in.City = &predictInput.city
	}
	if changed("type") {
		t := models.NormalizePropertyType(predictInput.propertyType)
		in.PropertyType = &t
	}
	if changed("bedrooms") {
		in.Bedrooms = &predictInput.bedrooms
	}
	if changed("bathrooms") {
		in.Bathrooms = &predictInput.bathrooms
	}
	if changed("sqft") {
		in.Sqft = &predictInput.sqft
	}
	if changed("year-built") {
		in.YearBuilt = &predictInput.yearBuilt
	}
	if changed("lat") && changed("lon") {
		in.Latitude = &predictInput.latitude
		in.Longitude = &predictInput.longitude
	}
	return in
}

func runPredict(cmd *cobra.Command, args []string) error {
	kind, err := valuation.ParseModelKind(modelKind)
	if err != nil {
		return err
	}
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	model, err := e.trainer.Load(ctx, kind)
	if err != nil {
		e.logger.WithError(err).Info("No stored model, training one")
		records, err := e.db.GetProperties(ctx, trainFilter())
		if err != nil {
			return err
		}
		if model, err = e.trainer.Train(ctx, records, kind, valuation.TrainOptions{Features: modelFeatures}); err != nil {
			return fmt.Errorf("failed to train %s model: %w", kind, err)
		}
	}

	result, err := valuation.NewPredictor(e.logger, nil).Predict(model, propertyInput(cmd))
	if err != nil {
		return err
	}
	return render(os.Stdout, result)
}
